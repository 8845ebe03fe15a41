package session

import "time"

// ChatEntry is one line of a conversation. From is the sender's participant
// identifier; the local participant's own lines carry its identifier too.
type ChatEntry struct {
	From string
	Text string
	At   time.Time
}

// chatLog keeps conversations per partner for the life of the process,
// independent of any Session.
type chatLog map[string][]ChatEntry

func (l chatLog) append(partner string, e ChatEntry) {
	l[partner] = append(l[partner], e)
}

func (l chatLog) history(partner string) []ChatEntry {
	return append([]ChatEntry(nil), l[partner]...)
}
