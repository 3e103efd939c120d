// Package models holds the catalog, query and connection types shared by the
// dialects, the compiler, the adapters and the services.
package models
