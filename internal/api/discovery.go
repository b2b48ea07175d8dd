package api

import (
	"UCP-Commerce/internal/payment"
)

// protocolVersion 是当前实现的商务协议版本。
const protocolVersion = "2026-01-11"

// shoppingService 是购物服务在发现清单中的注册名。
const shoppingService = "dev.ucp.shopping"

// Merchant 描述商户在发现清单中的自述信息。
type Merchant struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SupportEmail string `json:"support_email"`
	Language     string `json:"language"`
}

// ServiceREST 描述服务的 REST 接入点。
type ServiceREST struct {
	Schema   string `json:"schema"`
	Endpoint string `json:"endpoint"`
}

// Service 描述清单中的单个服务。
type Service struct {
	Version string      `json:"version"`
	Spec    string      `json:"spec"`
	REST    ServiceREST `json:"rest"`
}

// Capability 描述协议能力声明。
type Capability struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Spec    string `json:"spec"`
	Schema  string `json:"schema"`
}

// ProtocolInfo 是清单的协议部分。
type ProtocolInfo struct {
	Version      string             `json:"version"`
	Services     map[string]Service `json:"services"`
	Capabilities []Capability       `json:"capabilities"`
}

// PaymentInfo 列出商户接受的支付处理器。
type PaymentInfo struct {
	Handlers []payment.Descriptor `json:"handlers"`
}

// Manifest 是 /.well-known/ucp 返回的发现清单。
type Manifest struct {
	UCP      ProtocolInfo `json:"ucp"`
	Payment  PaymentInfo  `json:"payment"`
	Merchant Merchant     `json:"merchant"`
}

// defaultMerchant 与演示商户保持一致，可通过配置覆盖。
func defaultMerchant() Merchant {
	return Merchant{
		Name:         "UCP Custom Shop",
		Description:  "Custom UCP-compliant merchant implementation",
		SupportEmail: "support@example.com",
		Language:     "en",
	}
}

// buildManifest 按商户信息与支付注册表组装发现清单。
func buildManifest(endpoint string, merchant Merchant, payments *payment.Registry) Manifest {
	var handlers []payment.Descriptor
	if payments != nil {
		handlers = payments.Descriptors()
	}
	return Manifest{
		UCP: ProtocolInfo{
			Version: protocolVersion,
			Services: map[string]Service{
				shoppingService: {
					Version: protocolVersion,
					Spec:    "https://ucp.dev/specification/reference",
					REST: ServiceREST{
						Schema:   "https://ucp.dev/services/shopping/openapi.json",
						Endpoint: endpoint,
					},
				},
			},
			Capabilities: []Capability{
				{
					Name:    shoppingService + ".checkout",
					Version: protocolVersion,
					Spec:    "https://ucp.dev/specification/checkout",
					Schema:  "https://ucp.dev/schemas/shopping/checkout.json",
				},
				{
					Name:    shoppingService + ".order",
					Version: protocolVersion,
					Spec:    "https://ucp.dev/specification/order",
					Schema:  "https://ucp.dev/schemas/shopping/order.json",
				},
			},
		},
		Payment:  PaymentInfo{Handlers: handlers},
		Merchant: merchant,
	}
}
