// Package mysql provides MySQL-backed repositories for the commerce service.
// It covers schema migrations, the product catalog, and the checkout session
// and order lifecycle, with order confirmation running in a single
// transaction that locks the session row and the affected inventory rows.
package mysql
