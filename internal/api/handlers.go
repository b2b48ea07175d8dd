package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"UCP-Commerce/internal/catalog"
	"UCP-Commerce/internal/checkout"
	xerrors "UCP-Commerce/internal/errors"
	redisstore "UCP-Commerce/internal/storage/redis"
)

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productResponses(products))
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product.ToResponse())
}

func (s *Server) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := catalog.Filter{
		Query:    query.Get("q"),
		Category: query.Get("category"),
	}
	if raw := strings.TrimSpace(query.Get("max_price")); raw != "" {
		maxPrice, err := decimal.NewFromString(raw)
		if err != nil {
			s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "max_price 不是合法数字"))
			return
		}
		filter.MaxPrice = &maxPrice
	}

	products, err := s.catalog.Search(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shop":     s.shopName,
		"products": productResponses(products),
	})
}

func productResponses(products []*catalog.Product) []catalog.Response {
	out := make([]catalog.Response, 0, len(products))
	for _, p := range products {
		out = append(out, p.ToResponse())
	}
	return out
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && s.idempotency != nil {
		if entry, err := s.idempotency.Lookup(r.Context(), idempotencyKey); err != nil {
			s.log.Warn("idempotency lookup failed", "err", err)
		} else if entry != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(entry.Status)
			_, _ = w.Write(entry.Body)
			return
		}
	}

	var req checkout.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.engine.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	response := session.ToResponse(s.engine.Now())
	if idempotencyKey != "" && s.idempotency != nil {
		s.saveIdempotentResponse(r, idempotencyKey, http.StatusCreated, response)
	}
	writeJSON(w, http.StatusCreated, response)
}

// saveIdempotentResponse 缓存成功响应供同键重放，失败只记日志。
func (s *Server) saveIdempotentResponse(r *http.Request, key string, status int, response checkout.SessionResponse) {
	body, err := json.Marshal(response)
	if err != nil {
		s.log.Warn("encode idempotent response failed", "err", err)
		return
	}
	entry := redisstore.Entry{Status: status, Body: body}
	if err := s.idempotency.Save(r.Context(), key, entry); err != nil {
		s.log.Warn("idempotency save failed", "key", key, "err", err)
	}
}

func (s *Server) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.ToResponse(s.engine.Now()))
}

func (s *Server) handleUpdateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.engine.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.ToResponse(s.engine.Now()))
}

func (s *Server) handleCompleteCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.CompleteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, order, err := s.engine.Complete(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response := session.ToResponse(s.engine.Now())
	orderResponse := order.ToResponse()
	response.Order = &orderResponse
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCancelCheckout(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.ToResponse(s.engine.Now()))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order.ToResponse())
}
