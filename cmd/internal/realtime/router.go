package realtime

import (
	"time"

	v1 "localchat/shared/contracts/realtime/v1"
)

// Router resolves event targets through the Registry and pushes envelopes to them.
//
// Delivery is best-effort: a full or closed sink is skipped and counted, never
// reported to the caller. Each method returns the number of sinks that accepted
// the envelope.
type Router struct {
	reg *Registry
	now func() time.Time
}

// NewRouter constructs a Router over reg.
func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg, now: time.Now}
}

// Registry returns the backing registry.
func (rt *Router) Registry() *Registry { return rt.reg }

// NotifyUser delivers env to every live connection of ownerID.
func (rt *Router) NotifyUser(ownerID string, env v1.Envelope) int {
	return rt.reg.deliver(func() map[string]*entry { return rt.reg.byOwner[ownerID] }, env, "")
}

// NotifyGroup delivers env to every connection subscribed to groupID except
// excludeConnID (may be empty).
func (rt *Router) NotifyGroup(groupID string, env v1.Envelope, excludeConnID string) int {
	return rt.reg.deliver(func() map[string]*entry { return rt.reg.byGroup[groupID] }, env, excludeConnID)
}

// Broadcast delivers env to every live connection.
func (rt *Router) Broadcast(env v1.Envelope) int {
	return rt.reg.deliver(func() map[string]*entry { return rt.reg.entries }, env, "")
}

// BroadcastPresence announces ownerID's presence to every connection of other owners.
//
// The Registry already emits transitions on first connect and last drop; this is for
// callers that need to re-announce state (e.g. after a display name change).
func (rt *Router) BroadcastPresence(ownerID, displayName string, online bool) int {
	env := presenceEnvelope(ownerID, displayName, online, rt.now())

	rt.reg.mu.RLock()
	defer rt.reg.mu.RUnlock()
	return rt.reg.deliverOthersLocked(ownerID, env)
}

func presenceEnvelope(ownerID, displayName string, online bool, at time.Time) v1.Envelope {
	f := v1.NewPresence(online, ownerID, displayName, at)
	return v1.MustEncode(f.Type, f)
}
