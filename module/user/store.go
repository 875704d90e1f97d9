package user

import (
	"context"

	"PSocial/module/user/model"
	"PSocial/service/presence"
	"PSocial/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrBadID    = errors.New("malformed user id")
	ErrNotReady = errors.New("user directory not ready")
)

// Directory is the persisted user store the presence layer writes through
// and the REST handlers read from.
type Directory interface {
	FindByID(ctx context.Context, userID string) (*model.User, error)
	FindFriends(ctx context.Context, userID string) ([]model.User, error)
	UpdateStatus(ctx context.Context, userID string, status presence.Status) error
	MarkOfflineExcept(ctx context.Context, live []string) (int64, error)
}

// DBProvider hands out the current database handle, if connected.
type DBProvider interface {
	TryGetDB() (*mongo.Database, bool)
}

type MongoDirectory struct {
	db         DBProvider
	collection string
}

func NewMongoDirectory(db DBProvider, collection string) *MongoDirectory {
	if collection == "" {
		collection = model.CollectionUsers
	}
	return &MongoDirectory{db: db, collection: collection}
}

func (d *MongoDirectory) Name() string { return "mongo" }

func (d *MongoDirectory) coll() (*mongo.Collection, error) {
	db, ok := d.db.TryGetDB()
	if !ok {
		return nil, ErrNotReady
	}
	return db.Collection(d.collection), nil
}

var userProjection = bson.M{"password": 0}

func (d *MongoDirectory) FindByID(ctx context.Context, userID string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrBadID
	}
	c, err := d.coll()
	if err != nil {
		return nil, err
	}
	var u model.User
	err = c.FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(userProjection)).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find user", "id", userID)
	}
	return &u, nil
}

// FindFriends loads the friend documents of userID.
func (d *MongoDirectory) FindFriends(ctx context.Context, userID string) ([]model.User, error) {
	u, err := d.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(u.Friends) == 0 {
		return []model.User{}, nil
	}
	c, err := d.coll()
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{"_id": bson.M{"$in": u.Friends}}, options.Find().SetProjection(userProjection))
	if err != nil {
		return nil, errs.WrapMsg(err, "find friends", "id", userID)
	}
	friends := make([]model.User, 0, len(u.Friends))
	if err := cur.All(ctx, &friends); err != nil {
		return nil, errs.WrapMsg(err, "decode friends", "id", userID)
	}
	return friends, nil
}

// UpdateStatus sets the persisted status. Unknown users are ignored.
func (d *MongoDirectory) UpdateStatus(ctx context.Context, userID string, status presence.Status) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return ErrBadID
	}
	c, err := d.coll()
	if err != nil {
		return err
	}
	if _, err := c.UpdateByID(ctx, oid, bson.M{"$set": bson.M{"status": string(status)}}); err != nil {
		return errs.WrapMsg(err, "update status", "id", userID, "status", status)
	}
	return nil
}

// MarkOfflineExcept flips every online user not in live to offline.
func (d *MongoDirectory) MarkOfflineExcept(ctx context.Context, live []string) (int64, error) {
	c, err := d.coll()
	if err != nil {
		return 0, err
	}
	res, err := c.UpdateMany(ctx, offlineExceptFilter(live), bson.M{"$set": bson.M{"status": model.StatusOffline}})
	if err != nil {
		return 0, errs.WrapMsg(err, "mark offline", "live", len(live))
	}
	return res.ModifiedCount, nil
}

func offlineExceptFilter(live []string) bson.M {
	filter := bson.M{"status": model.StatusOnline}
	if ids := toObjectIDs(live); len(ids) > 0 {
		filter["_id"] = bson.M{"$nin": ids}
	}
	return filter
}

// toObjectIDs 忽略非法 id
func toObjectIDs(ids []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			out = append(out, oid)
		}
	}
	return out
}
