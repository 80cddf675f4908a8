// Package keys implements license key issuance and the encrypted key
// bundle stored alongside fulfilled orders.
//
// Keys are short human-typeable strings: an optional product prefix
// followed by a 24-character base62 core drawn from crypto/rand. Only
// a salted SHA-256 hash of each key is persisted; the plaintext lives
// solely inside the AES-256-GCM bundle on the order row, so a database
// read alone never exposes redeemable keys.
package keys
