package network

import (
	"context"
	"fmt"
	"net"
)

// Resolver maps a domain name to one address.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// NetResolver resolves through the system resolver and prefers IPv4, like
// gethostbyname.
type NetResolver struct {
	Resolver *net.Resolver
}

func (r NetResolver) Resolve(ctx context.Context, name string) (string, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}

	ips, err := res.LookupIP(ctx, "ip4", name)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no address for %s", name)
	}
	return ips[0].String(), nil
}
