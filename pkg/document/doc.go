/*
Package document orchestrates access to per-document routing graphs.

Every mutation of a document's node instance graph runs inside a document-scoped
critical section: an in-process mutex, plus an optional distributed lock when several
replicas share storage. Operations on different documents never contend.
*/
package document
