// Package users implements attendee signup and confirmation.
//
// The Repository interface is the user directory contract: every mutation it
// exposes is a single atomic operation against the backing store, so two
// concurrent confirmations can never both report success and concurrent
// delivery records are unioned rather than overwritten.
//
// The service layer depends only on Repository and Notifier. It never imports
// net/http or a database driver directly.
package users
