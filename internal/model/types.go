package model

// Channel is one logical feed the client can subscribe to. Channels map
// one-to-one onto courses; the catalog replaces the whole set on refresh.
type Channel struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ChannelSet is an immutable snapshot of the channels a credential is
// entitled to. The zero value means "no subscriptions".
type ChannelSet []Channel

// IDs returns the channel ids in the set, in catalog order.
func (s ChannelSet) IDs() []int64 {
	ids := make([]int64, 0, len(s))
	for _, c := range s {
		ids = append(ids, c.ID)
	}
	return ids
}

// Contains reports whether the set includes the given channel id.
func (s ChannelSet) Contains(id int64) bool {
	for _, c := range s {
		if c.ID == id {
			return true
		}
	}
	return false
}
