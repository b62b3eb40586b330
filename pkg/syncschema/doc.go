// Package syncschema holds the data types shared by every layer of the
// sync storage core: the BSO record, collection metadata, and batch
// staging records. None of these types know how to persist themselves;
// pkg/storage and pkg/cache own that.
package syncschema
