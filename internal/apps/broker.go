// Package apps implements the per-room Apps Broker (C8): a CRDT document +
// awareness broker for collaborative in-meeting apps (shared whiteboards,
// polls, and the like).
//
// The CRDT document and awareness registry are treated as an opaque library
// interface per the design notes: applyUpdate, encodeStateVector,
// applyAwarenessUpdate, encodeAwareness, removeAwarenessStates. No
// third-party CRDT/Yjs-equivalent library exists anywhere in the retrieval
// pack this was built from, so Document here is a minimal in-memory
// implementation of that interface (a last-update-wins opaque blob whose
// "state vector" is a copy of the most recent update) rather than a wrapper
// around an external library.
// Per-user client-id tracking for disconnect GC is the only bespoke
// bookkeeping the broker itself needs, per the design notes.
package apps

import "sync"

// Document is the opaque CRDT-document interface the broker operates
// against. A real deployment would back this with an actual CRDT library;
// this in-memory implementation satisfies the same shape.
type Document interface {
	ApplyUpdate(update []byte)
	EncodeStateVector() []byte
	ApplyAwarenessUpdate(clientID string, update []byte)
	EncodeAwareness() []byte
	RemoveAwarenessStates(clientIDs []string)
}

// memDocument is a last-write-wins opaque document: it does not interpret
// updates, only stores the most recent one (which EncodeStateVector returns)
// and a count of applied updates. Awareness state is a map of clientID ->
// last update blob.
type memDocument struct {
	mu         sync.Mutex
	version    uint64
	lastUpdate []byte
	awareness  map[string][]byte
}

func newMemDocument() *memDocument {
	return &memDocument{awareness: make(map[string][]byte)}
}

func (d *memDocument) ApplyUpdate(update []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUpdate = append([]byte(nil), update...)
	d.version++
}

func (d *memDocument) EncodeStateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.lastUpdate...)
}

func (d *memDocument) ApplyAwarenessUpdate(clientID string, update []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.awareness[clientID] = append([]byte(nil), update...)
}

func (d *memDocument) EncodeAwareness() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Concatenate per-client updates; callers only need an opaque blob to
	// ship to newly-syncing clients, not to interpret it locally.
	out := make([]byte, 0)
	for _, v := range d.awareness {
		out = append(out, v...)
	}
	return out
}

func (d *memDocument) RemoveAwarenessStates(clientIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range clientIDs {
		delete(d.awareness, id)
	}
}

// State is the per-room Apps State embedded in Room.
type State struct {
	mu           sync.Mutex
	activeAppID  string
	locked       bool
	docs         map[string]Document
	// userClients tracks which awareness client-ids belong to which userId,
	// so disconnect can synthesize a removal update for every one of them.
	userClients map[string]map[string]struct{}
}

// NewState returns an empty Apps State.
func NewState() *State {
	return &State{
		docs:        make(map[string]Document),
		userClients: make(map[string]map[string]struct{}),
	}
}

// ActiveAppID and Locked mirror the Room-level fields.
func (s *State) ActiveAppID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAppID
}

func (s *State) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

func (s *State) SetLocked(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = locked
}

// Open sets the active app, creating its document on first use. Idempotent
// on the same id.
func (s *State) Open(appID string) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeAppID == appID {
		return false
	}
	s.activeAppID = appID
	if _, ok := s.docs[appID]; !ok {
		s.docs[appID] = newMemDocument()
	}
	return true
}

// Close clears the active app and removes the tracked client-ids from that
// app's awareness registry. The document itself is retained until room
// close. Close does not report which client-ids it removed, and the package
// has no exported accessor for them.
func (s *State) Close() (closedAppID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	closedAppID = s.activeAppID
	s.activeAppID = ""
	if closedAppID != "" {
		if doc, ok := s.docs[closedAppID]; ok {
			doc.RemoveAwarenessStates(s.clientIDsForLocked(closedAppID))
		}
		delete(s.userClients, closedAppID)
	}
	return closedAppID
}

func (s *State) docFor(appID string) Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[appID]
	if !ok {
		doc = newMemDocument()
		s.docs[appID] = doc
	}
	return doc
}

// Sync applies an incoming sync message and returns the current state
// vector plus awareness snapshot (step 1 of the CRDT handshake).
func (s *State) Sync(appID string, syncMessage []byte) (stateVector []byte, awareness []byte) {
	doc := s.docFor(appID)
	doc.ApplyUpdate(syncMessage)
	return doc.EncodeStateVector(), doc.EncodeAwareness()
}

// Update applies an update to the app's document; callers broadcast it to
// every other member after this returns.
func (s *State) Update(appID string, update []byte) {
	s.docFor(appID).ApplyUpdate(update)
}

// Awareness applies an awareness update for clientID, tracking it under
// userID for later disconnect GC.
func (s *State) Awareness(appID, userID, clientID string, update []byte) {
	s.docFor(appID).ApplyAwarenessUpdate(clientID, update)

	s.mu.Lock()
	defer s.mu.Unlock()
	clients, ok := s.userClients[userID]
	if !ok {
		clients = make(map[string]struct{})
		s.userClients[userID] = clients
	}
	clients[clientID] = struct{}{}
}

// RemoveUser synthesizes the removal of every awareness client-id tracked
// for userID across every app doc, returning the per-app lists removed so
// the caller can broadcast an apps:awareness removal notice for each.
func (s *State) RemoveUser(userID string) map[string][]string {
	s.mu.Lock()
	clients, ok := s.userClients[userID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	clientIDs := make([]string, 0, len(clients))
	for id := range clients {
		clientIDs = append(clientIDs, id)
	}
	delete(s.userClients, userID)
	docs := make(map[string]Document, len(s.docs))
	for id, d := range s.docs {
		docs[id] = d
	}
	s.mu.Unlock()

	removed := make(map[string][]string)
	for appID, doc := range docs {
		doc.RemoveAwarenessStates(clientIDs)
		removed[appID] = clientIDs
	}
	return removed
}

// clientIDsForLocked returns every tracked awareness client-id. Awareness
// tracking is keyed by userId, not by app, so a room with a single active
// app at a time clears the same set regardless of which app ID
// is closing.
func (s *State) clientIDsForLocked(_ string) []string {
	var ids []string
	for _, clients := range s.userClients {
		for id := range clients {
			ids = append(ids, id)
		}
	}
	return ids
}
