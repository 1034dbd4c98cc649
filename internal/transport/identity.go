package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// Identity is the (broker address, credentials) tuple a pooled connection is keyed by.
type Identity struct {
	Address  string
	User     string
	Password string
}

// String renders the identity without its password.
func (id Identity) String() string {
	if id.User == "" {
		return id.Address
	}
	return id.User + "@" + id.Address
}

func (id Identity) key() string {
	return id.Address + "\x00" + id.User + "\x00" + id.Password
}

// Scheme returns the broker scheme of the address. Bare host:port addresses are redis.
func (id Identity) Scheme() string {
	if i := strings.Index(id.Address, "://"); i > 0 {
		return strings.ToLower(id.Address[:i])
	}
	return "redis"
}

const queueParam = "simplequeue"

// ServiceURI names a logical service: the broker URL with the queue name
// appended as a query parameter.
func ServiceURI(brokerURL, queue string) string {
	sep := "?"
	if strings.Contains(brokerURL, "?") {
		sep = "&"
	}
	return brokerURL + sep + queueParam + "=" + url.QueryEscape(queue)
}

// ParseServiceURI splits a service URI into its broker URL and queue name.
func ParseServiceURI(uri string) (broker, queue string, err error) {
	i := strings.Index(uri, "?")
	if i < 0 {
		return "", "", fmt.Errorf("service uri %q has no %s parameter", uri, queueParam)
	}
	query, err := url.ParseQuery(uri[i+1:])
	if err != nil {
		return "", "", fmt.Errorf("service uri %q: %w", uri, err)
	}
	queue = query.Get(queueParam)
	if queue == "" {
		return "", "", fmt.Errorf("service uri %q has no %s parameter", uri, queueParam)
	}
	query.Del(queueParam)

	broker = uri[:i]
	if len(query) > 0 {
		broker += "?" + query.Encode()
	}
	return broker, queue, nil
}
