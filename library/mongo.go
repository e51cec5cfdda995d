package library

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is the Store backed by a MongoDB database with the collections
// users, books and borrow_history.
type MongoStore struct {
	client  *mongo.Client
	users   *mongo.Collection
	books   *mongo.Collection
	history *mongo.Collection
	log     *slog.Logger
}

// NewMongoStore connects to uri and ensures the lookup indexes on dbName exist.
func NewMongoStore(ctx context.Context, uri, dbName string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, storeErr("connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, storeErr("ping", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:  client,
		users:   db.Collection(tableUsers),
		books:   db.Collection(tableBooks),
		history: db.Collection(tableHistory),
		log:     logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	logger.Info("store opened", "driver", DriverMongo, "database", dbName)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll *mongo.Collection
		key  string
	}{
		{s.users, "email"},
		{s.books, "isbn"},
		{s.history, "user_id"},
		{s.history, "book_id"},
	}
	for _, ix := range indexes {
		model := mongo.IndexModel{Keys: bson.D{{Key: ix.key, Value: 1}}}
		if _, err := ix.coll.Indexes().CreateOne(ctx, model); err != nil {
			return storeErr("create index on "+ix.key, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var byID = bson.D{{Key: "_id", Value: 1}}

func (s *MongoStore) InsertBook(ctx context.Context, b *Book) error {
	if err := checkRecord("book", b); err != nil {
		return err
	}
	if _, err := s.books.InsertOne(ctx, b); err != nil {
		return storeErr("insert book", err)
	}
	return nil
}

func (s *MongoStore) DeleteBooks(ctx context.Context, isbn string) (int64, error) {
	res, err := s.books.DeleteMany(ctx, bson.M{"isbn": isbn})
	if err != nil {
		return 0, storeErr("delete books", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) FindBookByISBN(ctx context.Context, isbn string) (*Book, error) {
	var b Book
	if err := findOne(ctx, s.books, bson.M{"isbn": isbn}, &b, "find book"); err != nil {
		return nil, err
	}
	if err := checkRecord("book", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *MongoStore) ListBooks(ctx context.Context) ([]*Book, error) {
	return s.findBooks(ctx, bson.M{}, "list books")
}

// SearchBooks quotes the term so it is matched literally, not as a pattern.
func (s *MongoStore) SearchBooks(ctx context.Context, term string) ([]*Book, error) {
	re := primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}
	filter := bson.M{"$or": bson.A{
		bson.M{"title": re},
		bson.M{"author": re},
		bson.M{"genre": re},
	}}
	return s.findBooks(ctx, filter, "search books")
}

func (s *MongoStore) findBooks(ctx context.Context, filter any, op string) ([]*Book, error) {
	books := []*Book{}
	if err := findAll(ctx, s.books, filter, byID, &books, op); err != nil {
		return nil, err
	}
	for _, b := range books {
		if err := checkRecord("book", b); err != nil {
			return nil, err
		}
	}
	return books, nil
}

func (s *MongoStore) InsertUser(ctx context.Context, u *User) error {
	if err := checkRecord("user", u); err != nil {
		return err
	}
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		return storeErr("insert user", err)
	}
	return nil
}

func (s *MongoStore) DeleteUsers(ctx context.Context, email string) (int64, error) {
	res, err := s.users.DeleteMany(ctx, bson.M{"email": email})
	if err != nil {
		return 0, storeErr("delete users", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := findOne(ctx, s.users, bson.M{"email": email}, &u, "find user"); err != nil {
		return nil, err
	}
	if err := checkRecord("user", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]*User, error) {
	users := []*User{}
	if err := findAll(ctx, s.users, bson.M{}, byID, &users, "list users"); err != nil {
		return nil, err
	}
	for _, u := range users {
		if err := checkRecord("user", u); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// CheckoutBook claims the book with a conditional update, then records the
// borrow. If the insert fails the claim is released again.
func (s *MongoStore) CheckoutBook(ctx context.Context, rec *BorrowRecord) error {
	if err := checkRecord("borrow record", rec); err != nil {
		return err
	}

	res, err := s.books.UpdateOne(ctx,
		bson.M{"_id": rec.BookID, "available": true},
		bson.M{"$set": bson.M{"available": false}})
	if err != nil {
		return storeErr("reserve book", err)
	}
	if res.MatchedCount == 0 {
		n, err := s.books.CountDocuments(ctx, bson.M{"_id": rec.BookID})
		if err != nil {
			return storeErr("find book", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrUnavailable
	}

	doc := *rec
	doc.BorrowedAt = utc(rec.BorrowedAt)
	doc.DueAt = utc(rec.DueAt)
	doc.ReturnedAt = nil
	if _, err := s.history.InsertOne(ctx, &doc); err != nil {
		if _, undoErr := s.books.UpdateOne(ctx, bson.M{"_id": rec.BookID}, bson.M{"$set": bson.M{"available": true}}); undoErr != nil {
			s.log.Error("book left unavailable after failed checkout", "book_id", rec.BookID, "error", undoErr)
		}
		return storeErr("insert borrow record", err)
	}
	return nil
}

func (s *MongoStore) CheckinBook(ctx context.Context, userID, bookID string, at time.Time) error {
	filter := bson.M{"user_id": userID, "book_id": bookID, "returned_at": nil}
	opts := options.FindOneAndUpdate().SetSort(bson.D{{Key: "borrowed_at", Value: 1}, {Key: "_id", Value: 1}})
	res := s.history.FindOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{"returned_at": utc(at)}}, opts)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNoActiveBorrow
		}
		return storeErr("close borrow record", err)
	}

	if _, err := s.books.UpdateOne(ctx, bson.M{"_id": bookID}, bson.M{"$set": bson.M{"available": true}}); err != nil {
		return storeErr("release book", err)
	}
	return nil
}

func (s *MongoStore) BorrowRecords(ctx context.Context, bookID string) ([]*BorrowRecord, error) {
	recs := []*BorrowRecord{}
	sort := bson.D{{Key: "borrowed_at", Value: 1}, {Key: "_id", Value: 1}}
	if err := findAll(ctx, s.history, bson.M{"book_id": bookID}, sort, &recs, "list borrow records"); err != nil {
		return nil, err
	}
	for _, r := range recs {
		if err := checkRecord("borrow record", r); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func lookup(from, localField, as string) bson.D {
	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: from},
		{Key: "localField", Value: localField},
		{Key: "foreignField", Value: "_id"},
		{Key: "as", Value: as},
	}}}
}

func unwind(field string) bson.D {
	return bson.D{{Key: "$unwind", Value: "$" + field}}
}

func (s *MongoStore) History(ctx context.Context, userID string) iter.Seq2[HistoryEntry, error] {
	return func(yield func(HistoryEntry, error) bool) {
		pipeline := mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
			{{Key: "$sort", Value: bson.D{{Key: "borrowed_at", Value: 1}, {Key: "_id", Value: 1}}}},
			lookup(tableBooks, "book_id", "book"),
			unwind("book"),
			{{Key: "$project", Value: bson.D{
				{Key: "_id", Value: 0},
				{Key: "book_title", Value: "$book.title"},
				{Key: "borrowed_at", Value: 1},
				{Key: "due_at", Value: 1},
				{Key: "returned_at", Value: 1},
			}}},
		}
		cur, err := s.history.Aggregate(ctx, pipeline)
		if err != nil {
			yield(HistoryEntry{}, storeErr("history", err))
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var e HistoryEntry
			if err := cur.Decode(&e); err != nil {
				yield(HistoryEntry{}, storeErr("decode history", err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(HistoryEntry{}, storeErr("history", err))
		}
	}
}

func (s *MongoStore) MostPopular(ctx context.Context, limit int) ([]PopularBook, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$book_id"},
			{Key: "borrow_count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		lookup(tableBooks, "_id", "book"),
		unwind("book"),
		{{Key: "$sort", Value: bson.D{{Key: "borrow_count", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 1},
			{Key: "title", Value: "$book.title"},
			{Key: "author", Value: "$book.author"},
			{Key: "borrow_count", Value: 1},
		}}},
	}
	out := []PopularBook{}
	if err := aggregate(ctx, s.history, pipeline, &out, "most popular"); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Overdue(ctx context.Context, now time.Time, includeReturned bool) ([]OverdueEntry, error) {
	match := bson.D{{Key: "due_at", Value: bson.D{{Key: "$lt", Value: utc(now)}}}}
	if !includeReturned {
		match = append(match, bson.E{Key: "returned_at", Value: nil})
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "due_at", Value: 1}, {Key: "_id", Value: 1}}}},
		lookup(tableBooks, "book_id", "book"),
		unwind("book"),
		lookup(tableUsers, "user_id", "user"),
		unwind("user"),
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "book_title", Value: "$book.title"},
			{Key: "isbn", Value: "$book.isbn"},
			{Key: "user_name", Value: "$user.name"},
			{Key: "user_email", Value: "$user.email"},
			{Key: "borrowed_at", Value: 1},
			{Key: "due_at", Value: 1},
			{Key: "returned_at", Value: 1},
		}}},
	}
	out := []OverdueEntry{}
	if err := aggregate(ctx, s.history, pipeline, &out, "overdue"); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) GenrePopularity(ctx context.Context) ([]GenreCount, error) {
	pipeline := mongo.Pipeline{
		lookup(tableBooks, "book_id", "book"),
		unwind("book"),
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$book.genre"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	out := []GenreCount{}
	if err := aggregate(ctx, s.history, pipeline, &out, "genre popularity"); err != nil {
		return nil, err
	}
	return out, nil
}

func findOne(ctx context.Context, coll *mongo.Collection, filter, dest any, op string) error {
	err := coll.FindOne(ctx, filter, options.FindOne().SetSort(byID)).Decode(dest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return storeErr(op, err)
	}
	return nil
}

func findAll(ctx context.Context, coll *mongo.Collection, filter any, sort bson.D, dest any, op string) error {
	cur, err := coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return storeErr(op, err)
	}
	if err := cur.All(ctx, dest); err != nil {
		return storeErr(op, err)
	}
	return nil
}

func aggregate(ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, dest any, op string) error {
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return storeErr(op, err)
	}
	if err := cur.All(ctx, dest); err != nil {
		return storeErr(op, err)
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
