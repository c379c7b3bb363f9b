// Package testutils provides a small social dataset shared by the package tests.
package testutils

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/go-logr/logr"
	"github.com/onsi/ginkgo/v2"
)

var (
	UserAna  = mustOID("65f000000000000000000a01")
	UserBen  = mustOID("65f000000000000000000a02")
	UserCleo = mustOID("65f000000000000000000a03")
	// UserGone is referenced by a post but has no user document.
	UserGone = mustOID("65f000000000000000000a99")

	Post1 = mustOID("65f000000000000000000b01")
	Post2 = mustOID("65f000000000000000000b02")
	Post3 = mustOID("65f000000000000000000b03")
	Post4 = mustOID("65f000000000000000000b04")
	Post5 = mustOID("65f000000000000000000b05")
)

func mustOID(hex string) primitive.ObjectID {
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		panic(err)
	}
	return oid
}

// NewLogger returns a development zap logger writing to the ginkgo writer.
func NewLogger(level int) logr.Logger {
	return zap.New(zap.UseFlagOptions(&zap.Options{
		Development:     true,
		DestWriter:      ginkgo.GinkgoWriter,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
		Level:           zapcore.Level(level),
	}))
}

// At returns a UTC timestamp on March 2024.
func At(day, hour, minute int) time.Time {
	return time.Date(2024, time.March, day, hour, minute, 0, 0, time.UTC)
}

// Users returns a fresh copy of the users collection.
func Users() []map[string]any {
	return []map[string]any{
		{"_id": UserAna, "username": "user1", "name": "Ana", "email": "ana@example.com",
			"created_at": At(1, 8, 0), "bio": "Data engineer"},
		{"_id": UserBen, "username": "user5", "name": "Ben", "email": "ben@example.com",
			"created_at": At(1, 8, 30), "bio": "Spark fan"},
		{"_id": UserCleo, "username": "user7", "name": "Cleo", "email": "cleo@example.com",
			"created_at": At(2, 10, 0), "bio": "Streaming"},
	}
}

// Posts returns a fresh copy of the posts collection. Hashtag usage: #mongodb 3, #spark 2,
// #kafka 2, #bigdata 1. Post4 has no metrics, Post5 belongs to a missing user.
func Posts() []map[string]any {
	return []map[string]any{
		{"_id": Post1, "user_id": UserAna, "text": "Intro to #mongodb and #bigdata",
			"hashtags": []any{"#mongodb", "#bigdata"}, "created_at": At(1, 9, 15),
			"metrics": map[string]any{"likes": int64(10), "comments": int64(2)}},
		{"_id": Post2, "user_id": UserAna, "text": "More #mongodb",
			"hashtags": []any{"#mongodb"}, "created_at": At(1, 14, 0),
			"metrics": map[string]any{"likes": int64(3), "comments": int64(5)}},
		{"_id": Post3, "user_id": UserBen, "text": "Hello #spark",
			"hashtags": []any{"#spark"}, "created_at": At(2, 9, 45),
			"metrics": map[string]any{"likes": int64(7), "comments": int64(0)}},
		{"_id": Post4, "user_id": UserCleo, "text": "Pipelines with #spark #kafka #mongodb",
			"hashtags": []any{"#spark", "#kafka", "#mongodb"}, "created_at": At(3, 21, 0)},
		{"_id": Post5, "user_id": UserGone, "text": "Orphan #kafka",
			"hashtags": []any{"#kafka"}, "created_at": At(4, 14, 30),
			"metrics": map[string]any{"likes": int64(0), "comments": int64(1)}},
	}
}

// Comments returns a fresh copy of the comments collection.
func Comments() []map[string]any {
	return []map[string]any{
		{"post_id": Post1, "user_id": UserBen, "text": "Nice", "created_at": At(1, 10, 0)},
		{"post_id": Post1, "user_id": UserCleo, "text": "+1", "created_at": At(1, 11, 0)},
		{"post_id": Post3, "user_id": UserAna, "text": "Agreed", "created_at": At(2, 12, 0)},
	}
}
