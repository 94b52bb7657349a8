package templates

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/models"
)

// MongoStore keeps one document per template with its variants embedded.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// EnsureIndexes creates the lookup indexes used by FindActive and Find.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "isActive", Value: 1}}},
		{Keys: bson.D{
			{Key: "variants.channel", Value: 1},
			{Key: "variants.userRole", Value: 1},
			{Key: "variants.language", Value: 1},
		}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create template indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) decodeAll(ctx context.Context, cur *mongo.Cursor) ([]*models.Template, error) {
	defer cur.Close(ctx)
	out := []*models.Template{}
	for cur.Next(ctx) {
		var t models.Template
		if err := cur.Decode(&t); err != nil {
			return nil, fmt.Errorf("decode template: %w", err)
		}
		out = append(out, &t)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindActive sorts candidates in Go because version strings do not order
// correctly as text.
func (s *MongoStore) FindActive(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*models.Template, error) {
	filter := bson.M{
		"type":     string(t),
		"isActive": true,
		"variants": bson.M{"$elemMatch": bson.M{
			"channel":  string(ch),
			"userRole": string(role),
			"language": lang,
		}},
	}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find active template: %w", err)
	}
	list, err := s.decodeAll(ctx, cur)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	sortByVersionDesc(list)
	return list[0], nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NewTemplateIDNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("find template %s: %w", id, err)
	}
	return &t, nil
}

func (s *MongoStore) ListByType(ctx context.Context, t models.TemplateType) ([]*models.Template, error) {
	cur, err := s.coll.Find(ctx, bson.M{"type": string(t)})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	list, err := s.decodeAll(ctx, cur)
	if err != nil {
		return nil, err
	}
	sortByVersionDesc(list)
	return list, nil
}

func mongoFilter(f Filter) bson.M {
	filter := bson.M{}
	if f.Type != "" {
		filter["type"] = string(f.Type)
	}
	if f.Category != "" {
		filter["category"] = string(f.Category)
	}
	if f.Active != nil {
		filter["isActive"] = *f.Active
	}
	if f.Channel != "" || f.Role != "" || f.Language != "" {
		match := bson.M{}
		if f.Channel != "" {
			match["channel"] = string(f.Channel)
		}
		if f.Role != "" {
			match["userRole"] = string(f.Role)
		}
		if f.Language != "" {
			match["language"] = f.Language
		}
		filter["variants"] = bson.M{"$elemMatch": match}
	}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"name": re},
			bson.M{"type": re},
			bson.M{"variants.title": re},
		}
	}
	return filter
}

func (s *MongoStore) Find(ctx context.Context, f Filter, p Pagination) ([]*models.Template, int64, error) {
	p = p.Normalize()
	filter := mongoFilter(f)

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(p.Offset())).
		SetLimit(int64(p.Limit))
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find templates: %w", err)
	}
	items, err := s.decodeAll(ctx, cur)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *MongoStore) Create(ctx context.Context, t *models.Template) error {
	if _, err := s.coll.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, t *models.Template) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return fmt.Errorf("replace template: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NewTemplateIDNotFoundError(t.ID)
	}
	return nil
}

func (s *MongoStore) IncrementUsage(ctx context.Context, id string, at time.Time) error {
	_, err := s.coll.UpdateByID(ctx, id, bson.M{
		"$inc": bson.M{"usage.totalSent": 1},
		"$set": bson.M{"usage.lastUsed": at},
	})
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}
