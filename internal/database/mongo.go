package database

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps articles in a MongoDB collection with a unique url index.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// OpenMongo connects to MongoDB and ensures the url index exists.
func OpenMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating url index: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

// FindByURL returns the article stored under url, or nil if there is none.
func (m *MongoStore) FindByURL(ctx context.Context, url string) (*Article, error) {
	var a Article
	err := m.coll.FindOne(ctx, bson.M{"url": url}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", url, err)
	}
	return &a, nil
}

// Insert stores a new article document.
func (m *MongoStore) Insert(ctx context.Context, a *Article) error {
	if _, err := m.coll.InsertOne(ctx, a); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateURL
		}
		return fmt.Errorf("inserting article: %w", err)
	}
	return nil
}

// Upsert updates the document with the same url, keeping its id, or inserts it.
func (m *MongoStore) Upsert(ctx context.Context, a *Article) (bool, error) {
	res, err := m.coll.UpdateOne(ctx, bson.M{"url": a.URL}, upsertUpdate(a), options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("upserting article: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

// upsertUpdate sets every field of a. Optional fields that are nil are
// unset, so the stored document matches a as the SQLite UPDATE does.
func upsertUpdate(a *Article) bson.M {
	set := bson.M{
		"title":        a.Title,
		"description":  a.Description,
		"published_at": a.PublishedAt,
		"content":      a.Content,
		"language":     a.Language,
		"source":       a.Source,
	}
	unset := bson.M{}
	optional := func(key string, v *string) {
		if v != nil {
			set[key] = *v
		} else {
			unset[key] = ""
		}
	}
	optional("author", a.Author)
	optional("url_to_image", a.ImageURL)
	optional("extractive_sum", a.ExtractiveSummary)
	optional("abstractive_sum", a.AbstractiveSummary)
	if len(a.Extra) > 0 {
		set["extra"] = a.Extra
	} else {
		unset["extra"] = ""
	}

	update := bson.M{"$set": set, "$setOnInsert": bson.M{"id": a.ID}}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

// All returns every document in the collection.
func (m *MongoStore) All(ctx context.Context) ([]Article, error) {
	cur, err := m.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "published_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	var articles []Article
	if err := cur.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("decoding articles: %w", err)
	}
	return articles, nil
}

// Stats returns aggregate counts over the collection.
func (m *MongoStore) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{ByLanguage: make(map[string]int)}

	total, err := m.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	s.TotalArticles = int(total)

	summarized, err := m.coll.CountDocuments(ctx, bson.M{"abstractive_sum": bson.M{"$nin": bson.A{nil, ""}}})
	if err != nil {
		return nil, err
	}
	s.SummarizedArticles = int(summarized)

	cur, err := m.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$language"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	var groups []struct {
		Language string `bson:"_id"`
		Count    int    `bson:"count"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, err
	}
	for _, g := range groups {
		s.ByLanguage[g.Language] = g.Count
	}
	return s, nil
}

// Close disconnects the client.
func (m *MongoStore) Close() error {
	return m.client.Disconnect(context.Background())
}
