package store

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/l7mp/socialdb/internal/testutils"
	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/expression"
	"github.com/l7mp/socialdb/pkg/pipeline"
	"github.com/l7mp/socialdb/pkg/predicate"
	"github.com/l7mp/socialdb/pkg/util"
)

func ids(docs []document.Document) []any {
	return util.Map(func(d document.Document) any { return d[document.IDField] }, docs)
}

var _ = Describe("Store", func() {
	var s *Store
	var users, posts *Collection

	BeforeEach(func() {
		s = New(logger)
		var err error
		posts, err = s.CreateCollection("posts", WithSchema(PostSchema))
		Expect(err).NotTo(HaveOccurred())
		users = s.Collection("users")

		_, err = users.InsertMany(util.ToAny(testutils.Users()))
		Expect(err).NotTo(HaveOccurred())
		_, err = posts.InsertMany(util.ToAny(testutils.Posts()))
		Expect(err).NotTo(HaveOccurred())
	})

	Context("collections", func() {
		It("should list and resolve collections", func() {
			s.Collection("comments")
			Expect(s.Collections()).To(Equal([]string{"comments", "posts", "users"}))

			ref, ok := s.Resolve("users")
			Expect(ok).To(BeTrue())
			Expect(ref.Name()).To(Equal("users"))
			Expect(ref.Documents()).To(HaveLen(3))

			_, ok = s.Resolve("nope")
			Expect(ok).To(BeFalse())
		})

		It("should return the same handle for a name", func() {
			Expect(s.Collection("users")).To(BeIdenticalTo(users))
		})

		It("should refuse to create an existing collection", func() {
			_, err := s.CreateCollection("users")
			Expect(err).To(HaveOccurred())
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should refuse an invalid schema", func() {
			_, err := s.CreateCollection("bad", WithSchema(`{"type": 12}`))
			Expect(err).To(HaveOccurred())
			Expect(dberrors.IsValidation(err)).To(BeTrue())
			Expect(s.Collections()).NotTo(ContainElement("bad"))
		})

		It("should drop a collection", func() {
			Expect(s.Drop("users")).To(BeTrue())
			Expect(s.Drop("users")).To(BeFalse())
			Expect(s.Collections()).To(Equal([]string{"posts"}))
		})
	})

	Context("insert", func() {
		It("should find an inserted document by _id", func() {
			id, err := users.InsertOne(map[string]any{"username": "user9", "name": "Dan"})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(BeAssignableToTypeOf(primitive.ObjectID{}))

			doc, ok, err := users.FindOne(bson.D{{Key: "_id", Value: id}})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(doc).To(HaveKeyWithValue("username", "user9"))
			Expect(doc).To(HaveKeyWithValue("_id", id))
		})

		It("should keep a caller supplied _id", func() {
			id, err := users.InsertOne(bson.M{"_id": "dan", "username": "user9"})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("dan"))
		})

		It("should reject a duplicate _id and keep the original", func() {
			_, err := users.InsertOne(map[string]any{"_id": testutils.UserAna, "username": "impostor"})
			Expect(err).To(HaveOccurred())
			Expect(dberrors.IsDuplicateKey(err)).To(BeTrue())

			doc, ok, err := users.FindOne(predicate.Eq("_id", testutils.UserAna))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(doc["username"]).To(Equal("user1"))
			Expect(users.Len()).To(Equal(3))
		})

		It("should treat numerically equal ids as duplicates", func() {
			_, err := users.InsertOne(map[string]any{"_id": 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = users.InsertOne(map[string]any{"_id": 1.0})
			Expect(dberrors.IsDuplicateKey(err)).To(BeTrue())
			_, err = users.InsertOne(map[string]any{"_id": "1"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should tell an object _id from an ObjectID with the same hex", func() {
			oid := document.NewID()
			_, err := users.InsertOne(map[string]any{"_id": oid})
			Expect(err).NotTo(HaveOccurred())
			_, err = users.InsertOne(map[string]any{"_id": map[string]any{"$oid": oid.Hex()}})
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Len()).To(Equal(5))
		})

		It("should reject an array _id", func() {
			_, err := users.InsertOne(map[string]any{"_id": []any{1, 2}})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should reject unsupported value types", func() {
			_, err := users.InsertOne(map[string]any{"ch": make(chan int)})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should stop an ordered batch at the first failure", func() {
			res, err := users.InsertMany([]any{
				map[string]any{"_id": "a"},
				map[string]any{"_id": "b"},
				map[string]any{"_id": "a"},
				map[string]any{"_id": "c"},
			})
			Expect(err).To(HaveOccurred())
			Expect(dberrors.IsDuplicateKey(err)).To(BeTrue())
			Expect(res).To(Equal([]any{"a", "b"}))

			n, err := users.CountDocuments(predicate.Eq("_id", "c"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("should not alias the caller's document", func() {
			raw := map[string]any{"_id": "x", "tags": []any{"a"}}
			_, err := users.InsertOne(raw)
			Expect(err).NotTo(HaveOccurred())
			raw["tags"].([]any)[0] = "changed"

			doc, _, err := users.FindOne(predicate.Eq("_id", "x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["tags"]).To(Equal([]any{"a"}))
		})

		It("should enforce the post schema", func() {
			_, err := posts.InsertOne(map[string]any{"metrics": map[string]any{"likes": -1}})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
			_, err = posts.InsertOne(map[string]any{"hashtags": []any{"#ok", 3}})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
			_, err = posts.InsertOne(map[string]any{"metrics": map[string]any{"likes": 1.5}})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
			Expect(posts.Len()).To(Equal(5))
		})
	})

	Context("find", func() {
		It("should find posts tagged with a hashtag", func() {
			res, err := posts.Find(bson.D{{Key: "hashtags", Value: "#mongodb"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(res)).To(Equal([]any{testutils.Post1, testutils.Post2, testutils.Post4}))
		})

		It("should find posts without metrics", func() {
			res, err := posts.Find(bson.M{"metrics": bson.M{"$exists": false}})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(res)).To(Equal([]any{testutils.Post4}))
		})

		It("should apply sort, skip, limit and projection", func() {
			opts := NewFindOptions().
				SetSort(pipeline.Desc("created_at")).
				SetSkip(1).
				SetLimit(2).
				SetProjection(pipeline.Include("text"), pipeline.Exclude("_id"))
			res, err := posts.Find(nil, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal([]document.Document{
				{"text": "Pipelines with #spark #kafka #mongodb"},
				{"text": "Hello #spark"},
			}))
		})

		It("should compute projected fields", func() {
			opts := NewFindOptions().SetProjection(pipeline.Compute("likes",
				expression.Field("metrics.likes")))
			res, err := posts.Find(predicate.Eq("_id", testutils.Post3), opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal([]document.Document{{"_id": testutils.Post3, "likes": int64(7)}}))
		})

		It("should let later options override earlier ones", func() {
			res, err := posts.Find(nil, NewFindOptions().SetLimit(1), NewFindOptions().SetLimit(3))
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(HaveLen(3))
		})

		It("should allow a zero limit", func() {
			res, err := posts.Find(nil, NewFindOptions().SetLimit(0))
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(BeEmpty())
		})

		It("should reject a negative limit", func() {
			_, err := posts.Find(nil, NewFindOptions().SetLimit(-1))
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should reject an unknown operator", func() {
			_, err := posts.Find(bson.M{"metrics.likes": bson.M{"$near": 1}})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should report type mismatches", func() {
			_, err := posts.Find(predicate.Gt("created_at", 5))
			Expect(dberrors.IsTypeMismatch(err)).To(BeTrue())
		})

		It("should return copies", func() {
			res, err := posts.Find(predicate.Eq("_id", testutils.Post1))
			Expect(err).NotTo(HaveOccurred())
			res[0]["metrics"].(map[string]any)["likes"] = int64(1000)

			doc, _, err := posts.FindOne(predicate.Eq("_id", testutils.Post1))
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["metrics"]).To(HaveKeyWithValue("likes", int64(10)))
		})

		It("should not fail when nothing matches", func() {
			doc, ok, err := posts.FindOne(predicate.Eq("text", "nope"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(doc).To(BeNil())
		})

		It("should count documents", func() {
			n, err := posts.CountDocuments(predicate.In("hashtags", "#spark", "#kafka"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(3)))
		})
	})

	Context("update", func() {
		It("should set nested fields", func() {
			n, err := posts.UpdateOne(predicate.Eq("_id", testutils.Post4),
				Set(bson.D{{Key: "metrics.likes", Value: 1}, {Key: "metrics.comments", Value: 0}}))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			doc, _, err := posts.FindOne(predicate.Eq("_id", testutils.Post4))
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["metrics"]).To(Equal(map[string]any{"likes": int64(1), "comments": int64(0)}))
		})

		It("should increment integers as integers", func() {
			_, err := posts.UpdateOne(predicate.Eq("_id", testutils.Post1),
				Inc(bson.M{"metrics.likes": 5}))
			Expect(err).NotTo(HaveOccurred())
			doc, _, _ := posts.FindOne(predicate.Eq("_id", testutils.Post1))
			Expect(doc["metrics"]).To(HaveKeyWithValue("likes", int64(15)))
		})

		It("should create an absent path on increment", func() {
			_, err := posts.UpdateOne(predicate.Eq("_id", testutils.Post4),
				Inc(bson.M{"metrics.likes": 1}))
			Expect(err).NotTo(HaveOccurred())
			doc, _, _ := posts.FindOne(predicate.Eq("_id", testutils.Post4))
			Expect(doc["metrics"]).To(Equal(map[string]any{"likes": int64(1)}))
		})

		It("should refuse to increment a non-numeric field", func() {
			_, err := posts.UpdateOne(predicate.Eq("_id", testutils.Post1), Inc(bson.M{"text": 1}))
			Expect(dberrors.IsTypeMismatch(err)).To(BeTrue())
		})

		It("should refuse to modify the _id", func() {
			_, err := posts.UpdateOne(predicate.Eq("_id", testutils.Post1), Set(bson.M{"_id": 1}))
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should refuse a non-numeric increment", func() {
			_, err := posts.UpdateOne(predicate.Eq("_id", testutils.Post1),
				Inc(bson.M{"metrics.likes": "1"}))
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should change increment-only counters with $inc only", func() {
			counted, err := s.CreateCollection("counted", WithIncrementOnly(PostCounters...))
			Expect(err).NotTo(HaveOccurred())
			_, err = counted.InsertMany(util.ToAny(testutils.Posts()))
			Expect(err).NotTo(HaveOccurred())

			_, err = counted.UpdateOne(predicate.Eq("_id", testutils.Post1), Set(bson.M{"metrics.likes": 0}))
			Expect(dberrors.IsValidation(err)).To(BeTrue())
			_, err = counted.UpdateMany(predicate.All(), Set(bson.M{"metrics": bson.M{}}))
			Expect(dberrors.IsValidation(err)).To(BeTrue())

			n, err := counted.UpdateOne(predicate.Eq("_id", testutils.Post1), Inc(bson.M{"metrics.likes": 1}))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
			n, err = counted.UpdateOne(predicate.Eq("_id", testutils.Post1), Set(bson.M{"text": "edited"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			doc, _, err := counted.FindOne(predicate.Eq("_id", testutils.Post1))
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["metrics"]).To(HaveKeyWithValue("likes", int64(11)))
			Expect(doc["text"]).To(Equal("edited"))
		})

		It("should refuse an invalid increment-only path", func() {
			_, err := s.CreateCollection("counted", WithIncrementOnly("metrics..likes"))
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should refuse conflicting paths", func() {
			_, err := posts.UpdateOne(predicate.All(),
				Set(bson.D{{Key: "metrics", Value: bson.M{}}, {Key: "metrics.likes", Value: 1}}))
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should update only the first match with UpdateOne", func() {
			n, err := posts.UpdateOne(predicate.Eq("user_id", testutils.UserAna),
				Set(bson.M{"flag": true}))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
			res, err := posts.Find(predicate.Eq("flag", true))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(res)).To(Equal([]any{testutils.Post1}))
		})

		It("should update every match with UpdateMany", func() {
			n, err := posts.UpdateMany(predicate.Exists("metrics", true),
				Inc(bson.M{"metrics.comments": 1}))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(4)))
		})

		It("should report zero updates when nothing matches", func() {
			n, err := posts.UpdateMany(predicate.Eq("text", "nope"), Set(bson.M{"x": 1}))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("should leave the collection unchanged on a schema violation", func() {
			_, err := posts.UpdateMany(predicate.All(), Inc(bson.M{"metrics.likes": -5}))
			Expect(dberrors.IsValidation(err)).To(BeTrue())

			doc, _, _ := posts.FindOne(predicate.Eq("_id", testutils.Post1))
			Expect(doc["metrics"]).To(HaveKeyWithValue("likes", int64(10)))
		})

		It("should parse structured updates", func() {
			u, err := ParseUpdate(bson.D{{Key: "$inc", Value: bson.D{{Key: "metrics.likes", Value: 2}}}})
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Op).To(Equal(OpInc))

			_, err = ParseUpdate(bson.M{"$set": bson.M{"a": 1}, "$inc": bson.M{"b": 1}})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
			_, err = ParseUpdate(bson.M{"$unset": bson.M{"a": 1}})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should not change snapshots taken before the update", func() {
			before := posts.Documents()
			_, err := posts.UpdateMany(predicate.All(), Set(bson.M{"text": "redacted"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(before[0]["text"]).To(Equal("Intro to #mongodb and #bigdata"))
		})

		It("should serialize concurrent increments", func() {
			const n = 50
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := posts.UpdateOne(predicate.Eq("_id", testutils.Post3),
						Inc(bson.M{"metrics.likes": 1}))
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			doc, _, _ := posts.FindOne(predicate.Eq("_id", testutils.Post3))
			Expect(doc["metrics"]).To(HaveKeyWithValue("likes", int64(7+n)))
		})
	})

	Context("delete", func() {
		It("should delete the first match only with DeleteOne", func() {
			n, err := posts.DeleteOne(predicate.Eq("user_id", testutils.UserAna))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
			Expect(posts.Len()).To(Equal(4))
		})

		It("should be idempotent", func() {
			n, err := posts.DeleteMany(predicate.Eq("hashtags", "#kafka"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			n, err = posts.DeleteMany(predicate.Eq("hashtags", "#kafka"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
			Expect(posts.Len()).To(Equal(3))
		})

		It("should free the _id of a deleted document", func() {
			_, err := posts.DeleteOne(predicate.Eq("_id", testutils.Post5))
			Expect(err).NotTo(HaveOccurred())
			_, err = posts.InsertOne(map[string]any{"_id": testutils.Post5})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("aggregate", func() {
		It("should run a structured pipeline with a lookup", func() {
			res, err := posts.Aggregate(bson.A{
				bson.D{{Key: "$match", Value: bson.M{"metrics": bson.M{"$exists": true}}}},
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: "$user_id"},
					{Key: "likes", Value: bson.M{"$sum": "$metrics.likes"}},
				}}},
				bson.D{{Key: "$lookup", Value: bson.D{
					{Key: "from", Value: "users"},
					{Key: "localField", Value: "_id"},
					{Key: "foreignField", Value: "_id"},
					{Key: "as", Value: "user"},
				}}},
				bson.D{{Key: "$unwind", Value: "$user"}},
				bson.D{{Key: "$project", Value: bson.D{
					{Key: "_id", Value: 0},
					{Key: "username", Value: "$user.username"},
					{Key: "likes", Value: 1},
				}}},
				bson.D{{Key: "$sort", Value: bson.D{{Key: "likes", Value: -1}}}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal([]document.Document{
				{"username": "user1", "likes": int64(13)},
				{"username": "user5", "likes": int64(7)},
			}))
		})

		It("should accept a typed pipeline", func() {
			res, err := posts.Aggregate(pipeline.Pipeline{
				pipeline.Unwind("$hashtags"),
				pipeline.Count("n"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal([]document.Document{{"n": int64(8)}}))
		})

		It("should reject a lookup of an unknown collection", func() {
			_, err := posts.Aggregate([]map[string]any{{"$lookup": map[string]any{
				"from": "nope", "localField": "user_id", "foreignField": "_id", "as": "u"}}})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should fail fast on an invalid stage", func() {
			_, err := posts.Aggregate(pipeline.Pipeline{
				pipeline.Unwind("$hashtags"),
				pipeline.Limit(-1),
			})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should surface division by zero", func() {
			_, err := posts.Aggregate(pipeline.Pipeline{
				pipeline.Project(pipeline.Compute("r", expression.Divide(
					expression.Field("metrics.likes"), expression.Field("metrics.comments")))),
			})
			Expect(dberrors.IsDivisionByZero(err)).To(BeTrue())
		})

		It("should return copies", func() {
			res, err := posts.Aggregate(pipeline.Pipeline{pipeline.Limit(1)})
			Expect(err).NotTo(HaveOccurred())
			res[0]["text"] = "changed"
			doc, _, _ := posts.FindOne(predicate.Eq("_id", testutils.Post1))
			Expect(doc["text"]).To(Equal("Intro to #mongodb and #bigdata"))
		})

		It("should run concurrently with writers", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := users.UpdateMany(predicate.All(), Inc(bson.M{"visits": 1}))
					Expect(err).NotTo(HaveOccurred())
				}()
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					res, err := posts.Aggregate(pipeline.Pipeline{
						pipeline.Lookup(users, "user_id", "_id", "user"),
						pipeline.Count("n"),
					})
					Expect(err).NotTo(HaveOccurred())
					Expect(res).To(Equal([]document.Document{{"n": int64(5)}}))
				}()
			}
			wg.Wait()

			doc, _, _ := users.FindOne(predicate.Eq("_id", testutils.UserAna))
			Expect(doc["visits"]).To(Equal(int64(20)))
		})
	})
})
