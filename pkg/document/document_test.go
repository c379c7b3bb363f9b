package document_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
)

var _ = Describe("Documents", func() {
	Describe("Normalization", func() {
		It("should convert Go integers and floats", func() {
			doc, err := document.New(map[string]any{"a": 1, "b": int32(2), "c": float32(1.5), "d": uint8(3)})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc).To(Equal(document.Document{"a": int64(1), "b": int64(2), "c": float64(1.5), "d": int64(3)}))
		})

		It("should convert bson containers", func() {
			doc, err := document.New(bson.D{
				{Key: "name", Value: "ana"},
				{Key: "tags", Value: bson.A{"#a", "#b"}},
				{Key: "metrics", Value: bson.M{"likes": 3}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc).To(Equal(document.Document{
				"name":    "ana",
				"tags":    []any{"#a", "#b"},
				"metrics": map[string]any{"likes": int64(3)},
			}))
		})

		It("should convert typed slices and timestamps", func() {
			ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
			doc, err := document.New(map[string]any{"hashtags": []string{"#x"}, "created_at": ts})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["hashtags"]).To(Equal([]any{"#x"}))
			Expect(doc["created_at"]).To(Equal(ts.UTC()))
			Expect(doc["created_at"].(time.Time).Hour()).To(Equal(9))
		})

		It("should reject unsupported types", func() {
			_, err := document.New(map[string]any{"ch": make(chan int)})
			Expect(err).To(HaveOccurred())
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should reject unsigned integers beyond the int64 range", func() {
			_, err := document.New(map[string]any{"n": uint64(math.MaxUint64)})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
			_, err = document.Normalize(uint64(1) << 63)
			Expect(dberrors.IsValidation(err)).To(BeTrue())
			n, err := document.Normalize(uint64(math.MaxInt64))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(math.MaxInt64)))
		})

		It("should reject a non-document", func() {
			_, err := document.New([]any{int64(1)})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should deep copy", func() {
			orig := document.Document{"a": map[string]any{"b": []any{int64(1)}}}
			cp := document.DeepCopyDocument(orig)
			cp["a"].(map[string]any)["b"].([]any)[0] = int64(2)
			Expect(orig["a"].(map[string]any)["b"]).To(Equal([]any{int64(1)}))
		})
	})

	Describe("Ordering", func() {
		oid1, _ := primitive.ObjectIDFromHex("65f000000000000000000001")
		oid2, _ := primitive.ObjectIDFromHex("65f000000000000000000002")

		It("should order across kinds", func() {
			vs := []any{nil, int64(1), "a", map[string]any{}, []any{}, oid1, false, time.Unix(0, 0).UTC()}
			for i := 0; i < len(vs)-1; i++ {
				Expect(document.Compare(vs[i], vs[i+1])).To(Equal(-1), "%v < %v", vs[i], vs[i+1])
				Expect(document.Compare(vs[i+1], vs[i])).To(Equal(1))
			}
		})

		It("should compare numbers numerically", func() {
			Expect(document.Compare(int64(2), float64(2))).To(Equal(0))
			Expect(document.Compare(int64(2), float64(2.5))).To(Equal(-1))
			Expect(document.Compare(float64(10), int64(9))).To(Equal(1))
		})

		It("should compare composites element-wise", func() {
			Expect(document.Compare([]any{int64(1), int64(2)}, []any{int64(1), int64(3)})).To(Equal(-1))
			Expect(document.Compare([]any{int64(1)}, []any{int64(1), int64(0)})).To(Equal(-1))
			Expect(document.Compare(map[string]any{"a": int64(1)}, map[string]any{"a": int64(1)})).To(Equal(0))
			Expect(document.Compare(oid1, oid2)).To(Equal(-1))
		})

		It("should sort absent values first", func() {
			Expect(document.CompareMissing(nil, false, nil, true)).To(Equal(-1))
			Expect(document.CompareMissing(nil, false, nil, false)).To(Equal(0))
			Expect(document.CompareMissing(int64(1), true, nil, false)).To(Equal(1))
		})
	})

	Describe("Keys", func() {
		It("should give equal values the same key", func() {
			Expect(document.Key(int64(1))).To(Equal(document.Key(float64(1))))
			Expect(document.Key(map[string]any{"a": int64(1), "b": "x"})).To(Equal(document.Key(map[string]any{"b": "x", "a": float64(1)})))
		})

		It("should agree with equality on large integral doubles", func() {
			i, f := int64(1<<60+1), float64(1<<60+1)
			Expect(document.Equal(i, f)).To(BeFalse())
			Expect(document.Key(i)).NotTo(Equal(document.Key(f)))
			Expect(document.Equal(int64(1<<60), f)).To(BeTrue())
			Expect(document.Key(int64(1<<60))).To(Equal(document.Key(f)))
			Expect(document.Compare(i, f)).To(Equal(1))
			Expect(document.Compare(f, i)).To(Equal(-1))
		})

		It("should not confuse objects with markers", func() {
			oid := document.NewID()
			obj := map[string]any{"$oid": oid.Hex()}
			Expect(document.Equal(obj, oid)).To(BeFalse())
			Expect(document.Key(obj)).NotTo(Equal(document.Key(oid)))
			ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
			Expect(document.Key(map[string]any{"$date": "2024-03-01T09:30:00Z"})).NotTo(Equal(document.Key(ts)))
		})

		It("should tell kinds apart", func() {
			oid := document.NewID()
			Expect(document.Key(int64(1))).NotTo(Equal(document.Key("1")))
			Expect(document.Key(oid)).NotTo(Equal(document.Key(oid.Hex())))
			Expect(document.Key(nil)).NotTo(Equal(document.Key("null")))
		})
	})

	Describe("Paths", func() {
		var doc document.Document

		BeforeEach(func() {
			doc = document.Document{
				"text":     "hello",
				"metrics":  map[string]any{"likes": int64(5), "comments": nil},
				"hashtags": []any{"#a"},
			}
		})

		It("should get nested fields", func() {
			v, ok := document.Get(doc, "metrics.likes")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(int64(5)))
		})

		It("should report null as present", func() {
			v, ok := document.Get(doc, "metrics.comments")
			Expect(ok).To(BeTrue())
			Expect(v).To(BeNil())
		})

		It("should report absent paths", func() {
			_, ok := document.Get(doc, "stats.likes")
			Expect(ok).To(BeFalse())
			_, ok = document.Get(doc, "text.length")
			Expect(ok).To(BeFalse())
			_, ok = document.Get(doc, "hashtags.0")
			Expect(ok).To(BeFalse())
		})

		It("should set nested fields creating parents", func() {
			Expect(document.Set(doc, "stats.views.total", int64(1))).To(Succeed())
			v, ok := document.Get(doc, "stats.views.total")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(int64(1)))

			Expect(document.Set(doc, "metrics.likes", int64(6))).To(Succeed())
			Expect(doc["metrics"].(map[string]any)["likes"]).To(Equal(int64(6)))
		})

		It("should refuse to set through a scalar", func() {
			err := document.Set(doc, "text.length", int64(5))
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should refuse empty segments", func() {
			Expect(dberrors.IsValidation(document.Set(doc, "a..b", int64(1)))).To(BeTrue())
		})

		It("should remove fields", func() {
			document.Remove(doc, "metrics.likes")
			Expect(document.Has(doc, "metrics.likes")).To(BeFalse())
			Expect(document.Has(doc, "metrics")).To(BeTrue())
			document.Remove(doc, "nope.nope")
		})
	})

	Describe("Extended JSON", func() {
		It("should decode YAML with markers", func() {
			v, err := document.Decode([]byte(`
posts:
  - _id: {$oid: 65f0000000000000000000aa}
    created_at: {$date: "2024-03-01T09:30:00Z"}
    metrics: {likes: 3}
    score: 1.5
`))
			Expect(err).NotTo(HaveOccurred())
			posts := v.(map[string]any)["posts"].([]any)
			post := posts[0].(map[string]any)
			Expect(post["_id"]).To(BeAssignableToTypeOf(primitive.ObjectID{}))
			Expect(post["_id"].(primitive.ObjectID).Hex()).To(Equal("65f0000000000000000000aa"))
			Expect(post["created_at"]).To(Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)))
			Expect(post["metrics"]).To(Equal(map[string]any{"likes": int64(3)}))
			Expect(post["score"]).To(Equal(1.5))
		})

		It("should reject a malformed object id", func() {
			_, err := document.FromExtendedJSON(map[string]any{"$oid": "xyz"})
			Expect(dberrors.IsValidation(err)).To(BeTrue())
		})

		It("should encode back to markers", func() {
			oid := document.NewID()
			ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
			out := document.ToExtendedJSON(map[string]any{"_id": oid, "at": ts})
			Expect(out).To(Equal(map[string]any{
				"_id": map[string]any{"$oid": oid.Hex()},
				"at":  map[string]any{"$date": "2024-03-01T09:30:00Z"},
			}))
		})
	})
})
