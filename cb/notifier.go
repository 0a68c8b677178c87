package cb

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	ternutil "isc.org/tern/util"
)

// A function called with the audit entries of one fetched batch. The
// entries are ordered and belong to the given family.
type AuditHandler func(family ternutil.IPType, entries []AuditEntry)

// Notifier dispatches configuration change notifications to the
// subscribed handlers. The configuration fetcher notifies it after a
// new snapshot built from a batch of audit entries is committed, so a
// handler observing the notification already sees the new
// configuration.
type Notifier struct {
	mu       sync.RWMutex
	handlers map[string]AuditHandler
}

// Creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{
		handlers: make(map[string]AuditHandler),
	}
}

// Subscribes a named handler. Subscribing under an existing name
// replaces the previous handler.
func (notifier *Notifier) Subscribe(name string, handler AuditHandler) error {
	if name == "" {
		return errors.Wrap(ErrInvalidParameter, "subscriber name must not be empty")
	}
	if handler == nil {
		return errors.Wrapf(ErrInvalidParameter, "subscriber %s provides no handler", name)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.handlers[name] = handler
	return nil
}

// Removes a subscribed handler. Unsubscribing an unknown name is not
// an error.
func (notifier *Notifier) Unsubscribe(name string) {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	delete(notifier.handlers, name)
}

// Calls all subscribed handlers with the batch. The handlers run
// synchronously on the caller's goroutine; a panicking handler is
// logged and does not disturb the remaining handlers.
func (notifier *Notifier) Notify(family ternutil.IPType, entries []AuditEntry) {
	if len(entries) == 0 {
		return
	}
	notifier.mu.RLock()
	handlers := make(map[string]AuditHandler, len(notifier.handlers))
	for name, handler := range notifier.handlers {
		handlers[name] = handler
	}
	notifier.mu.RUnlock()

	for name, handler := range handlers {
		notifier.dispatch(name, handler, family, entries)
	}
}

func (notifier *Notifier) dispatch(name string, handler AuditHandler, family ternutil.IPType, entries []AuditEntry) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("subscriber", name).
				Errorf("Recovered from panic in a configuration change handler: %v", r)
		}
	}()
	handler(family, entries)
}
