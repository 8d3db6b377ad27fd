package export

import "privacy/api/internal/store"

// MaxRecordsPerCollection bounds each collection query.
const MaxRecordsPerCollection = 10000

// Collection describes one document-store source included in an archive.
type Collection struct {
	// Name is the archive file stem, e.g. "posts" for posts.jsonl.
	Name      string
	Container string
	// MatchAny lists fields compared with the user id. A record is selected
	// when any of them matches.
	MatchAny []string
	// Optional collections are left out of the archive when empty.
	Optional bool
}

// DefaultCollections is the export footprint of a user, in archive order.
var DefaultCollections = []Collection{
	{Name: "posts", Container: "posts", MatchAny: []string{"authorId"}},
	{Name: "comments", Container: "comments", MatchAny: []string{"authorId"}},
	{Name: "likes", Container: "likes", MatchAny: []string{"userId"}},
	{Name: "moderation", Container: "moderation_decisions", MatchAny: []string{"actorId", "userId"}},
	{Name: "flags", Container: "content_flags", MatchAny: []string{"flaggedBy"}, Optional: true},
	{Name: "appeals", Container: "appeals", MatchAny: []string{"submitterId"}, Optional: true},
	{Name: "appeal_votes", Container: "appeal_votes", MatchAny: []string{"voterId"}, Optional: true},
	{Name: "moderation_decisions", Container: "moderation_decisions", MatchAny: []string{"contentOwnerId"}, Optional: true},
}

func (c Collection) query(userID string) store.Query {
	q := store.Query{SortBy: "createdAt", Desc: true, Limit: MaxRecordsPerCollection}
	conds := make([]store.Cond, 0, len(c.MatchAny))
	for _, field := range c.MatchAny {
		conds = append(conds, store.Eq(field, userID))
	}
	if len(conds) == 1 {
		q.Where = conds
	} else {
		q.AnyOf = conds
	}
	return q
}
