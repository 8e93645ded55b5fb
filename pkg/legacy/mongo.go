package legacy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// Collection names used by the legacy deployment.
const (
	FilesCollection    = "files"
	MessagesCollection = "messages"
)

// MongoSource connects to the legacy database, where every logical file was a
// document in the files collection.
type MongoSource struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoSource connects to uri. When database is empty the database named
// in the URI is used.
func NewMongoSource(ctx context.Context, uri, database string) (*MongoSource, error) {
	if strings.TrimSpace(database) == "" {
		cs, err := connstring.ParseAndValidate(uri)
		if err != nil {
			return nil, fmt.Errorf("parse legacy mongo uri: %w", err)
		}
		database = cs.Database
	}
	if database == "" {
		return nil, fmt.Errorf("legacy mongo database required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect legacy mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping legacy mongo: %w", err)
	}
	return &MongoSource{client: client, db: client.Database(database)}, nil
}

// Close disconnects from the legacy database.
func (m *MongoSource) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Collection returns a Source over one collection.
func (m *MongoSource) Collection(name string) MongoCollection {
	return MongoCollection{coll: m.db.Collection(name)}
}

// MongoCollection reads every document of a collection. Documents are rendered
// as canonical extended JSON so they carry the same wrappers as exported dumps.
type MongoCollection struct {
	coll *mongo.Collection
}

func (c MongoCollection) Name() string {
	return "mongo:" + c.coll.Database().Name() + "." + c.coll.Name()
}

func (c MongoCollection) Documents(ctx context.Context) ([]any, error) {
	cur, err := c.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.Name(), err)
	}
	defer cur.Close(ctx)
	var (
		docs    []any
		skipped int
	)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			skipped++
			continue
		}
		raw, err := bson.MarshalExtJSON(doc, true, false)
		if err != nil {
			skipped++
			continue
		}
		var out any
		if err := decodeJSON(raw, &out); err != nil {
			skipped++
			continue
		}
		docs = append(docs, out)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c.Name(), err)
	}
	if skipped > 0 {
		slog.Warn("skipped undecodable legacy documents", "collection", c.Name(), "count", skipped)
	}
	return docs, nil
}
