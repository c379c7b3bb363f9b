// Package analytics implements the social analytics reports and the named queries over the
// users, posts and comments collections of a store.
package analytics

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/pipeline"
	"github.com/l7mp/socialdb/pkg/store"
)

const (
	Users    = "users"
	Posts    = "posts"
	Comments = "comments"
)

const (
	ReportHashtags    = "hashtags"
	ReportEngagement  = "engagement"
	ReportInfluencers = "influencers"
	ReportHourly      = "hourly"
)

// DefaultLimit is the number of rows a ranked report returns unless told otherwise.
const DefaultLimit = 10

// Reports lists the report names in the order they are printed.
var Reports = []string{ReportHashtags, ReportEngagement, ReportInfluencers, ReportHourly}

type report struct {
	spec   any
	ranked bool
}

var reports = map[string]report{
	ReportHashtags: {ranked: true, spec: mustDecode(`
- $unwind: $hashtags
- $group:
    _id: $hashtags
    usos: {$sum: 1}
- $sort: {usos: -1}
`)},

	// posts without metrics are left out instead of ranking with zero engagement
	ReportEngagement: {ranked: true, spec: mustDecode(`
- $match: {metrics: {$exists: true}}
- $project:
    text: 1
    created_at: 1
    engagement: {$add: [$metrics.likes, $metrics.comments]}
- $sort: [{engagement: -1}, {created_at: -1}]
`)},

	ReportInfluencers: {ranked: true, spec: mustDecode(`
- $group:
    _id: $user_id
    likes_totales: {$sum: $metrics.likes}
    posts: {$sum: 1}
- $lookup: {from: users, localField: _id, foreignField: _id, as: u}
- $unwind: $u
- $project:
    _id: 0
    username: $u.username
    posts: 1
    likes_totales: 1
    promedio_likes:
      $cond: [{$gt: [$posts, 0]}, {$divide: [$likes_totales, $posts]}, 0]
- $sort: {likes_totales: -1}
`)},

	ReportHourly: {spec: mustDecode(`
- $addFields: {hour: {$hour: $created_at}}
- $group: {_id: $hour, posts: {$sum: 1}}
- $sort: {_id: 1}
`)},
}

func mustDecode(yaml string) any {
	v, err := document.Decode([]byte(yaml))
	if err != nil {
		panic(fmt.Sprintf("invalid report pipeline: %s", err))
	}
	return v
}

// Analytics runs reports and queries against a store.
type Analytics struct {
	store *store.Store
	log   logr.Logger
}

// New creates an analytics runner on top of a store.
func New(s *store.Store, log logr.Logger) *Analytics {
	return &Analytics{store: s, log: log.WithName("analytics")}
}

// Pipeline returns the pipeline of a report. Ranked reports keep the first limit rows; a
// non-positive limit keeps every row.
func (a *Analytics) Pipeline(name string, limit int64) (pipeline.Pipeline, error) {
	r, ok := reports[name]
	if !ok {
		return nil, dberrors.NewValidation("unknown report %q", name)
	}

	// lookups resolve against existing collections only
	a.store.Collection(Users)

	p, err := pipeline.Parse(r.spec, a.store.Resolve)
	if err != nil {
		return nil, fmt.Errorf("report %q: %w", name, err)
	}
	if r.ranked && limit > 0 {
		p = append(p, pipeline.Limit(limit))
	}
	return p, nil
}

// Report runs the named report on the posts collection.
func (a *Analytics) Report(name string, limit int64) ([]document.Document, error) {
	p, err := a.Pipeline(name, limit)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := a.store.Collection(Posts).Aggregate(p)
	if err != nil {
		return nil, fmt.Errorf("report %q: %w", name, err)
	}

	a.log.V(1).Info("report ready", "report", name, "rows", len(res), "duration", time.Since(start))

	return res, nil
}

// TopHashtags ranks hashtags by the number of posts using them.
func (a *Analytics) TopHashtags(limit int64) ([]document.Document, error) {
	return a.Report(ReportHashtags, limit)
}

// TopEngagement ranks posts by likes plus comments, newest first on ties.
func (a *Analytics) TopEngagement(limit int64) ([]document.Document, error) {
	return a.Report(ReportEngagement, limit)
}

// TopInfluencers ranks users by the likes their posts received, with post counts and the
// average likes per post. Posts of unknown users are left out.
func (a *Analytics) TopInfluencers(limit int64) ([]document.Document, error) {
	return a.Report(ReportInfluencers, limit)
}

// HourlyActivity counts posts per UTC hour of the day.
func (a *Analytics) HourlyActivity() ([]document.Document, error) {
	return a.Report(ReportHourly, 0)
}
