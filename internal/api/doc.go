// Package api exposes the merchant's external HTTP surface: the
// discovery manifest, the product catalog, checkout sessions and
// orders, plus the conversational shopping endpoint backed by the
// agent package.
package api
