// Package federation 将一次商品检索扇出到联盟内所有商家并聚合结果。
// 任一商家失败只会让它贡献零条结果，不影响其余商家。
package federation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	xerrors "UCP-Commerce/internal/errors"
)

// Shop 描述联盟中的一个商家端点。
type Shop struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	BaseURL string `yaml:"url" json:"url"`
}

// Registry 保存联盟商家的静态清单。
type Registry struct {
	shops []Shop
}

// NewRegistry 以给定清单创建 Registry。
func NewRegistry(shops []Shop) *Registry {
	return &Registry{shops: append([]Shop(nil), shops...)}
}

// Shops 返回清单副本。
func (r *Registry) Shops() []Shop {
	return append([]Shop(nil), r.shops...)
}

type registryFile struct {
	Shops []Shop `yaml:"shops"`
}

// LoadRegistry 从 YAML 文件载入商家清单。
func LoadRegistry(path string) (*Registry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "failed to read shop registry")
	}
	return parseRegistry(content)
}

func parseRegistry(content []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "failed to parse shop registry")
	}
	for i, shop := range file.Shops {
		if shop.ID == "" || shop.BaseURL == "" {
			return nil, xerrors.New(xerrors.CodeValidation,
				fmt.Sprintf("shop entry %d is missing id or url", i))
		}
	}
	return NewRegistry(file.Shops), nil
}
