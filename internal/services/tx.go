package services

import "gorm.io/gorm"

// withTx wraps one batch or page of work in a transaction. A nil db runs the
// unit without one; repos then fall back to their own handles, which is how
// service tests run against fakes.
func withTx(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return fn(nil)
	}
	return db.Transaction(fn)
}
