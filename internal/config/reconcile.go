package config

import (
	"maps"
	"slices"
)

// ProxyChanges lists proxy prefixes that differ between two records.
type ProxyChanges struct {
	Added   []string
	Removed []string
	Updated []string
}

// Empty reports whether no prefix changed.
func (c ProxyChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0
}

// DiffProxy compares the proxy rules of oldRec and newRec. A nil oldRec
// reports every rule in newRec as added. Each list is sorted.
func DiffProxy(oldRec, newRec *Record) ProxyChanges {
	var changes ProxyChanges
	if newRec == nil {
		return changes
	}

	oldRules := map[string]ProxyRule{}
	if oldRec != nil {
		oldRules = oldRec.Server.Proxy
	}

	for prefix, rule := range newRec.Server.Proxy {
		prev, ok := oldRules[prefix]
		switch {
		case !ok:
			changes.Added = append(changes.Added, prefix)
		case !ruleEqual(prev, rule):
			changes.Updated = append(changes.Updated, prefix)
		}
	}
	for prefix := range oldRules {
		if _, ok := newRec.Server.Proxy[prefix]; !ok {
			changes.Removed = append(changes.Removed, prefix)
		}
	}

	slices.Sort(changes.Added)
	slices.Sort(changes.Removed)
	slices.Sort(changes.Updated)
	return changes
}

func ruleEqual(a, b ProxyRule) bool {
	return a.Target == b.Target && a.ChangeOrigin == b.ChangeOrigin && maps.Equal(a.Headers, b.Headers)
}

// RequiresRestart reports whether moving from oldRec to newRec changes
// something the running listener cannot pick up: address or TLS mode.
func RequiresRestart(oldRec, newRec Record) bool {
	return oldRec.Addr() != newRec.Addr() || oldRec.Server.HTTPS != newRec.Server.HTTPS
}
