package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/MrEthical07/goMembership/repository"
)

// Users is a repository.UserRepository over one collection. Writes use
// majority write concern. Default reads may be served by a secondary;
// queries with repository.WaitForNonStale read majority-committed data from
// the primary.
type Users struct {
	coll  *mongo.Collection
	fresh *mongo.Collection
}

var _ repository.UserRepository = (*Users)(nil)

// NewUsers returns a repository over db.collection and creates its indexes.
func NewUsers(ctx context.Context, db *mongo.Database, collection string) (*Users, error) {
	u := &Users{
		coll: db.Collection(collection, options.Collection().
			SetWriteConcern(writeconcern.Majority()).
			SetReadPreference(readpref.SecondaryPreferred())),
		fresh: db.Collection(collection, options.Collection().
			SetWriteConcern(writeconcern.Majority()).
			SetReadConcern(readconcern.Majority()).
			SetReadPreference(readpref.Primary())),
	}
	if err := u.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureIndexes creates the unique user name index and the lookup and
// search indexes. It is idempotent.
func (u *Users) EnsureIndexes(ctx context.Context) error {
	_, err := u.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: fieldApplication, Value: 1}, {Key: fieldUsernameKey, Value: 1}},
			Options: options.Index().SetName("uniq_application_username").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: fieldApplication, Value: 1}, {Key: fieldEmailKey, Value: 1}},
			Options: options.Index().SetName("application_email"),
		},
		{
			Keys:    bson.D{{Key: fieldApplication, Value: 1}, {Key: fieldLastActivityDate, Value: 1}},
			Options: options.Index().SetName("application_last_activity"),
		},
		{
			Keys:    bson.D{{Key: fieldApplication, Value: 1}, {Key: fieldUsernameTokens, Value: 1}},
			Options: options.Index().SetName("application_username_tokens"),
		},
		{
			Keys:    bson.D{{Key: fieldApplication, Value: 1}, {Key: fieldEmailTokens, Value: 1}},
			Options: options.Index().SetName("application_email_tokens"),
		},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

// Ping checks the primary.
func (u *Users) Ping(ctx context.Context) error {
	return Healthcheck(u.coll.Database().Client())(ctx)
}

func (u *Users) read(opts []repository.QueryOption) *mongo.Collection {
	if repository.ResolveQueryOptions(opts).Consistency == repository.ConsistencyWaitForNonStale {
		return u.fresh
	}
	return u.coll
}

func (u *Users) FindOne(ctx context.Context, filter repository.UserFilter, opts ...repository.QueryOption) (*repository.UserRecord, error) {
	var doc userDocument
	err := u.read(opts).FindOne(ctx, userFilterDoc(filter)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.record(), nil
}

func (u *Users) FindMany(ctx context.Context, filter repository.UserFilter, opts ...repository.QueryOption) ([]*repository.UserRecord, error) {
	return u.find(ctx, u.read(opts), userFilterDoc(filter), 0, 0)
}

func (u *Users) Count(ctx context.Context, filter repository.UserFilter, opts ...repository.QueryOption) (int, error) {
	n, err := u.read(opts).CountDocuments(ctx, userFilterDoc(filter))
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(n), nil
}

func (u *Users) Search(ctx context.Context, query repository.SearchQuery, opts ...repository.QueryOption) (repository.SearchResult, error) {
	coll := u.read(opts)
	filter := searchFilterDoc(query)

	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return repository.SearchResult{}, fmt.Errorf("count search: %w", err)
	}
	if query.Skip >= int(total) {
		return repository.SearchResult{Records: []*repository.UserRecord{}, Total: int(total)}, nil
	}

	recs, err := u.find(ctx, coll, filter, query.Skip, query.Take)
	if err != nil {
		return repository.SearchResult{}, err
	}
	return repository.SearchResult{Records: recs, Total: int(total)}, nil
}

func (u *Users) find(ctx context.Context, coll *mongo.Collection, filter bson.D, skip, take int) ([]*repository.UserRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: fieldUsernameKey, Value: 1}, {Key: fieldID, Value: 1}})
	if skip > 0 {
		opts.SetSkip(int64(skip))
	}
	if take > 0 {
		opts.SetLimit(int64(take))
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var docs []userDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	out := make([]*repository.UserRecord, len(docs))
	for i := range docs {
		out[i] = docs[i].record()
	}
	return out, nil
}

func (u *Users) Create(ctx context.Context, rec *repository.UserRecord) error {
	if rec.ID == "" {
		id, err := repository.NewID()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	rec.Version = 1

	if _, err := u.coll.InsertOne(ctx, toDocument(rec)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (u *Users) Update(ctx context.Context, rec *repository.UserRecord, opts ...repository.WriteOption) error {
	filter := u.writeFilter(rec, opts)

	next := rec.Clone()
	next.Version = rec.Version + 1
	res, err := u.coll.ReplaceOne(ctx, filter, toDocument(next))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("replace user: %w", err)
	}
	if res.MatchedCount == 0 {
		return u.missed(ctx, rec)
	}
	rec.Version = next.Version
	return nil
}

func (u *Users) Delete(ctx context.Context, rec *repository.UserRecord, opts ...repository.WriteOption) error {
	res, err := u.coll.DeleteOne(ctx, u.writeFilter(rec, opts))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return u.missed(ctx, rec)
	}
	return nil
}

func (u *Users) writeFilter(rec *repository.UserRecord, opts []repository.WriteOption) bson.D {
	filter := bson.D{
		{Key: fieldID, Value: rec.ID},
		{Key: fieldApplication, Value: rec.ApplicationName},
	}
	if repository.ResolveWriteOptions(opts).Optimistic {
		filter = append(filter, bson.E{Key: fieldVersion, Value: rec.Version})
	}
	return filter
}

// missed tells a version mismatch from a missing record after a write
// matched nothing.
func (u *Users) missed(ctx context.Context, rec *repository.UserRecord) error {
	n, err := u.fresh.CountDocuments(ctx, bson.D{
		{Key: fieldID, Value: rec.ID},
		{Key: fieldApplication, Value: rec.ApplicationName},
	})
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}
