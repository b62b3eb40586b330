// Package controller implements the HTTP surface over a storage.Store:
// info/* collection metadata endpoints, the storage collection/item CRUD
// endpoints, and the batch-upload workflow. It validates wire BSOs,
// parses the filter/sort/paging query grammar, negotiates the response
// encoding, and maps storage.Kind errors onto the HTTP status table.
//
// Authentication happens upstream (pkg/auth, ahead of pkg/dispatcher); this
// package only reads the already-verified uid out of the request
// context and checks it against the uid named in the URL.
package controller
