package analytics

import (
	"time"

	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/pipeline"
	"github.com/l7mp/socialdb/pkg/predicate"
	"github.com/l7mp/socialdb/pkg/store"
)

func limited(limit int64) *store.FindOptions {
	o := store.NewFindOptions()
	if limit > 0 {
		o.SetLimit(limit)
	}
	return o
}

// RecentPostsWithHashtag returns the posts using a hashtag created at or after since, newest
// first.
func (a *Analytics) RecentPostsWithHashtag(hashtag string, since time.Time, limit int64) ([]document.Document, error) {
	f := predicate.And(predicate.Eq("hashtags", hashtag), predicate.Gte("created_at", since))
	return a.store.Collection(Posts).Find(f, limited(limit).SetSort(pipeline.Desc("created_at")))
}

// UsersMatching returns the username and email of the users whose username matches a regular
// expression, e.g., `^user(10|[5-9])$`.
func (a *Analytics) UsersMatching(pattern string, limit int64) ([]document.Document, error) {
	return a.store.Collection(Users).Find(predicate.Regex("username", pattern),
		limited(limit).SetProjection(pipeline.Include("username"), pipeline.Include("email")))
}

// PopularPosts returns the posts with at least minLikes likes or at least minComments comments.
func (a *Analytics) PopularPosts(minLikes, minComments, limit int64) ([]document.Document, error) {
	f := predicate.Or(
		predicate.Gte("metrics.likes", minLikes),
		predicate.Gte("metrics.comments", minComments),
	)
	return a.store.Collection(Posts).Find(f,
		limited(limit).SetProjection(pipeline.Include("text"), pipeline.Include("metrics")))
}

// PostsWithAnyHashtag returns the posts using at least one of the hashtags.
func (a *Analytics) PostsWithAnyHashtag(hashtags []string, limit int64) ([]document.Document, error) {
	values := make([]any, len(hashtags))
	for i, h := range hashtags {
		values[i] = h
	}
	return a.store.Collection(Posts).Find(predicate.In("hashtags", values...),
		limited(limit).SetProjection(pipeline.Include("text"), pipeline.Include("hashtags")))
}

// PostsWithoutMetrics returns the posts that have no metrics field at all.
func (a *Analytics) PostsWithoutMetrics(limit int64) ([]document.Document, error) {
	return a.store.Collection(Posts).Find(predicate.Exists("metrics", false), limited(limit))
}

// PostsWithHashtagCount returns the posts using exactly n hashtags.
func (a *Analytics) PostsWithHashtagCount(n int, limit int64) ([]document.Document, error) {
	return a.store.Collection(Posts).Find(predicate.Size("hashtags", n),
		limited(limit).SetProjection(pipeline.Include("hashtags"), pipeline.Include("text")))
}

// CommentsForPosts returns the comments on any of the given posts.
func (a *Analytics) CommentsForPosts(postIDs []any, limit int64) ([]document.Document, error) {
	return a.store.Collection(Comments).Find(predicate.In("post_id", postIDs...), limited(limit))
}
