// Package notify implements the Notifier (§4.9): free-form chat webhook
// messages marking job start, finish, and fatal errors. Silent when no
// webhook is configured; a non-200 response is logged and never aborts
// the pipeline.
package notify
