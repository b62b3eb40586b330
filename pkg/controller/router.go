package controller

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router builds the full storage HTTP surface of spec.md §4.3. It does
// not itself run dispatcher middleware (server_time stamping, node-status
// backoff, default Accept, Retry-After) — pkg/dispatcher wraps it with
// that before it's ever served.
func (c *Controller) Router() *mux.Router {
	r := mux.NewRouter()
	base := "/{api}/{u:[0-9]+}"

	r.HandleFunc(base+"/info/collections", c.handleInfoCollections).Methods(http.MethodGet)
	r.HandleFunc(base+"/info/collection_counts", c.handleInfoCollectionCounts).Methods(http.MethodGet)
	r.HandleFunc(base+"/info/collection_usage", c.handleInfoCollectionUsage).Methods(http.MethodGet)
	r.HandleFunc(base+"/info/quota", c.handleInfoQuota).Methods(http.MethodGet)

	r.HandleFunc(base+"/storage/{c}", c.handleCollectionGet).Methods(http.MethodGet)
	r.HandleFunc(base+"/storage/{c}", c.handleCollectionPost).Methods(http.MethodPost)
	r.HandleFunc(base+"/storage/{c}", c.handleCollectionDelete).Methods(http.MethodDelete)

	r.HandleFunc(base+"/storage/{c}/{i}", c.handleItemGet).Methods(http.MethodGet)
	r.HandleFunc(base+"/storage/{c}/{i}", c.handleItemPut).Methods(http.MethodPut)
	r.HandleFunc(base+"/storage/{c}/{i}", c.handleItemDelete).Methods(http.MethodDelete)

	r.HandleFunc(base+"/storage", c.handleStorageDelete).Methods(http.MethodDelete)

	return r
}
