// Package benchmark measures throughput and latency against the public
// ironbase API. The teacher's benchmark suite measured bundoc's MVCC commit
// path under concurrent load; this engine's single-writer, single-handle
// model (spec §5) makes a concurrent-throughput benchmark meaningless, so
// these instead profile the sequential paths that model actually drives:
// insert, indexed find, update, and compact.
package benchmark

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ironbase/ironbase"
)

func openBench(b *testing.B, opts ironbase.Options) *ironbase.Database {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.db")
	db, err := ironbase.Open(path, opts)
	if err != nil {
		b.Fatalf("open: %v", err)
	}
	return db
}

// BenchmarkInsertOneSafe measures insert throughput under Safe durability
// (fsync every commit), the costliest of the three modes.
func BenchmarkInsertOneSafe(b *testing.B) {
	db := openBench(b, ironbase.DefaultOptions())
	defer db.Close()
	coll := db.Collection("bench")

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := coll.InsertOne(map[string]interface{}{
			"value": int64(i),
			"data":  "benchmark payload for write throughput measurement",
		}); err != nil {
			b.Fatalf("insert_one: %v", err)
		}
	}
}

// BenchmarkInsertOneUnsafe measures the same workload under Unsafe
// durability, where no per-commit fsync happens at all.
func BenchmarkInsertOneUnsafe(b *testing.B) {
	opts := ironbase.DefaultOptions()
	opts.Durability = ironbase.Unsafe
	db := openBench(b, opts)
	defer db.Close()
	coll := db.Collection("bench")

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := coll.InsertOne(map[string]interface{}{"value": int64(i)}); err != nil {
			b.Fatalf("insert_one: %v", err)
		}
	}
}

// BenchmarkFindByIndexedField measures a planner-selected indexed lookup
// against a pre-populated collection.
func BenchmarkFindByIndexedField(b *testing.B) {
	db := openBench(b, ironbase.DefaultOptions())
	defer db.Close()
	coll := db.Collection("bench")
	if _, err := coll.CreateIndex("value", false); err != nil {
		b.Fatalf("create_index: %v", err)
	}

	const numDocs = 1000
	for i := 0; i < numDocs; i++ {
		if _, err := coll.InsertOne(map[string]interface{}{"value": int64(i)}); err != nil {
			b.Fatalf("insert_one: %v", err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		v := int64(i % numDocs)
		if _, err := coll.Find(map[string]interface{}{"value": v}, ironbase.FindOptions{}); err != nil {
			b.Fatalf("find: %v", err)
		}
	}
}

// BenchmarkFindFullScan measures the same lookup with no index present, the
// planner's fallback path.
func BenchmarkFindFullScan(b *testing.B) {
	db := openBench(b, ironbase.DefaultOptions())
	defer db.Close()
	coll := db.Collection("bench")

	const numDocs = 1000
	for i := 0; i < numDocs; i++ {
		if _, err := coll.InsertOne(map[string]interface{}{"value": int64(i)}); err != nil {
			b.Fatalf("insert_one: %v", err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		v := int64(i % numDocs)
		if _, err := coll.Find(map[string]interface{}{"value": v}, ironbase.FindOptions{}); err != nil {
			b.Fatalf("find: %v", err)
		}
	}
}

// BenchmarkUpdateOne measures the update path, including its unique-index
// pre-check and index maintenance.
func BenchmarkUpdateOne(b *testing.B) {
	db := openBench(b, ironbase.DefaultOptions())
	defer db.Close()
	coll := db.Collection("bench")

	ids := make([]int64, 200)
	for i := range ids {
		res, err := coll.InsertOne(map[string]interface{}{"value": int64(i)})
		if err != nil {
			b.Fatalf("insert_one: %v", err)
		}
		ids[i] = res["inserted_id"].(int64)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		id := ids[i%len(ids)]
		_, err := coll.UpdateOne(map[string]interface{}{"_id": id},
			map[string]interface{}{"$inc": map[string]interface{}{"value": int64(1)}})
		if err != nil {
			b.Fatalf("update_one: %v", err)
		}
	}
}

// BenchmarkMixedWorkload simulates a realistic 70/20/10 read/insert/update
// mix against a warmed-up collection.
func BenchmarkMixedWorkload(b *testing.B) {
	db := openBench(b, ironbase.DefaultOptions())
	defer db.Close()
	coll := db.Collection("bench")

	const numDocs = 100
	ids := make([]int64, numDocs)
	for i := 0; i < numDocs; i++ {
		res, err := coll.InsertOne(map[string]interface{}{"value": int64(i)})
		if err != nil {
			b.Fatalf("insert_one: %v", err)
		}
		ids[i] = res["inserted_id"].(int64)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			id := ids[i%numDocs]
			if _, err := coll.FindOne(map[string]interface{}{"_id": id}); err != nil {
				b.Fatalf("find_one: %v", err)
			}
		case 7, 8:
			if _, err := coll.InsertOne(map[string]interface{}{"value": fmt.Sprintf("new-%d", i)}); err != nil {
				b.Fatalf("insert_one: %v", err)
			}
		case 9:
			id := ids[i%numDocs]
			if _, err := coll.UpdateOne(map[string]interface{}{"_id": id},
				map[string]interface{}{"$set": map[string]interface{}{"touched": int64(i)}}); err != nil {
				b.Fatalf("update_one: %v", err)
			}
		}
	}
}
