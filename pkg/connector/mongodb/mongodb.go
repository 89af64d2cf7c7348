// Package mongodb reads and merges entities stored as MongoDB documents.
// Documents carry one element per mapped column; the driver's _id is left
// to the server and ignored when decoding.
package mongodb

import (
	"context"
	"reflect"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pagination"
)

// Config describes a MongoDB deployment.
type Config struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// Client is a connected database.
type Client struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *zap.Logger
}

// Connect connects to cfg.URI and pings the primary.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Database == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "mongodb database is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping MongoDB")
	}

	log := logger.Get().With(zap.String("component", "mongodb"), zap.String("database", cfg.Database))
	log.Info("Connected to MongoDB")
	return &Client{client: client, database: client.Database(cfg.Database), logger: log}, nil
}

// Close disconnects the client.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// InTransaction implements connector.Transactor. Transactions need a
// replica set; nested calls join the session already in ctx.
func (c *Client) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	return c.client.UseSession(ctx, func(sc mongo.SessionContext) error {
		_, err := sc.WithTransaction(sc, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, fn(sc)
		})
		return err
	})
}

// Option configures a Collection.
type Option func(*collectionOptions)

type collectionOptions struct {
	name   string
	cursor string
	order  pagination.Order
}

// WithCollectionName overrides the entity's table name.
func WithCollectionName(name string) Option {
	return func(o *collectionOptions) { o.name = name }
}

// WithCursor makes Query treat a parameter named column as a cursor.
func WithCursor(column string, order pagination.Order) Option {
	return func(o *collectionOptions) {
		o.cursor = column
		o.order = order
	}
}

// Collection is both a source and a destination of T.
type Collection[T any] struct {
	client *Client
	coll   *mongo.Collection
	desc   *entity.Descriptor
	cursor *entity.Field
	order  pagination.Order
}

// NewCollection returns the collection of T. Keys must be strings; the
// database cannot generate integer keys.
func NewCollection[T any](c *Client, opts ...Option) (*Collection[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	if desc.Key != nil && desc.Key.IsGenerated && desc.Key.Type.Kind() != reflect.String {
		return nil, errors.Newf(errors.ErrorTypeConfig, "%s: mongodb keys must be strings", desc.Name)
	}
	o := collectionOptions{name: desc.Table}
	for _, opt := range opts {
		opt(&o)
	}

	coll := &Collection[T]{client: c, coll: c.database.Collection(o.name), desc: desc, order: o.order}
	if o.cursor != "" {
		if coll.cursor = desc.Field(o.cursor); coll.cursor == nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "cursor column %q is not a field of %s", o.cursor, desc.Name)
		}
	}
	return coll, nil
}

// InTransaction implements connector.Transactor.
func (c *Collection[T]) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.client.InTransaction(ctx, fn)
}

// CreateSchema implements connector.SchemaCreator by indexing key_hash.
// Collections themselves are created on first insert.
func (c *Collection[T]) CreateSchema(ctx context.Context) (bool, error) {
	keyHash := c.desc.Control(entity.ControlKeyHash)
	if keyHash == nil {
		return false, nil
	}
	name := keyHash.Column + "_1"

	specs, err := c.coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeQuery, "list indexes")
	}
	for _, spec := range specs {
		if spec.Name == name {
			return false, nil
		}
	}

	_, err = c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: keyHash.Column, Value: 1}},
		Options: options.Index().SetName(name),
	})
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeLoad, "create index")
	}
	c.client.logger.Info("index created", zap.String("collection", c.coll.Name()), zap.String("index", name))
	return true, nil
}

// Query implements connector.Reader. Offset and limit page the result, the
// cursor parameter filters and sorts it and other parameters are equality
// filters.
func (c *Collection[T]) Query(ctx context.Context, params []connector.Parameter) ([]T, error) {
	filter, opts, err := c.queryFilter(params)
	if err != nil {
		return nil, err
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query collection")
	}
	return decodeAll[T](ctx, c.desc, cur)
}

func (c *Collection[T]) queryFilter(params []connector.Parameter) (bson.D, *options.FindOptions, error) {
	filter := bson.D{}
	opts := options.Find()
	for _, p := range params {
		switch p.Name {
		case connector.ParamLimit:
			opts.SetLimit(toInt64(p.Value))
			continue
		case connector.ParamOffset:
			opts.SetSkip(toInt64(p.Value))
			continue
		}
		f := c.desc.Field(p.Name)
		if f == nil {
			return nil, nil, errors.Newf(errors.ErrorTypeQuery, "unknown parameter %q", p.Name)
		}
		if f == c.cursor {
			op := "$gt"
			if c.order == pagination.Descending {
				op = "$lt"
			}
			filter = append(filter, bson.E{Key: f.Column, Value: bson.D{{Key: op, Value: p.Value}}})
			continue
		}
		filter = append(filter, bson.E{Key: f.Column, Value: p.Value})
	}
	if c.cursor != nil {
		dir := 1
		if c.order == pagination.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: c.cursor.Column, Value: dir}})
	}
	return filter, opts, nil
}

// Find implements connector.Writer.
func (c *Collection[T]) Find(ctx context.Context, q connector.FindQuery[T]) ([]T, error) {
	filter, ok := findFilter(q)
	if !ok {
		return nil, nil
	}
	opts := options.Find()
	if q.Result != nil {
		projection := bson.D{}
		for _, f := range q.Result {
			projection = append(projection, bson.E{Key: f.Column, Value: 1})
		}
		opts.SetProjection(projection)
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "find documents").WithDetail("collection", c.coll.Name())
	}
	return decodeAll[T](ctx, c.desc, cur)
}

// findFilter translates q. It reports false when q cannot match anything.
func findFilter[T any](q connector.FindQuery[T]) (bson.D, bool) {
	filter := bson.D{}
	for _, cond := range q.Where {
		filter = append(filter, bson.E{Key: cond.Field.Column, Value: cond.Value})
	}
	if q.All() {
		return filter, true
	}
	if len(q.Candidates) == 0 || len(q.Compare) == 0 {
		return nil, false
	}

	if len(q.Compare) == 1 {
		f := q.Compare[0]
		values := make(bson.A, len(q.Candidates))
		for i, candidate := range q.Candidates {
			values[i] = f.Get(candidate)
		}
		return append(filter, bson.E{Key: f.Column, Value: bson.D{{Key: "$in", Value: values}}}), true
	}

	alternatives := make(bson.A, len(q.Candidates))
	for i, candidate := range q.Candidates {
		match := bson.D{}
		for _, f := range q.Compare {
			match = append(match, bson.E{Key: f.Column, Value: f.Get(candidate)})
		}
		alternatives[i] = match
	}
	return append(filter, bson.E{Key: "$or", Value: alternatives}), true
}

// Insert implements connector.Writer. String keys are generated as UUIDs.
func (c *Collection[T]) Insert(ctx context.Context, rows []T) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	docs := make([]interface{}, len(rows))
	for i, row := range rows {
		if key := c.desc.Key; key != nil && key.IsGenerated {
			if err := key.Set(row, uuid.NewString()); err != nil {
				return 0, err
			}
		}
		docs[i] = toDocument(c.desc, row)
	}
	res, err := c.coll.InsertMany(ctx, docs)
	if err != nil {
		inserted := 0
		if res != nil {
			inserted = len(res.InsertedIDs)
		}
		return inserted, errors.Wrap(err, errors.ErrorTypeLoad, "insert documents").WithDetail("collection", c.coll.Name())
	}
	return len(res.InsertedIDs), nil
}

// Update implements connector.Writer. Documents are matched by key, or by
// key_hash on the active version.
func (c *Collection[T]) Update(ctx context.Context, changes []entity.ChangedFieldSet[T]) (int, error) {
	updated := 0
	for _, change := range changes {
		filter, err := identity(c.desc, change.Row)
		if err != nil {
			return updated, err
		}
		set := bson.D{}
		for _, f := range change.Fields {
			set = append(set, bson.E{Key: f.Column, Value: f.Get(change.Row)})
		}
		res, err := c.coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: set}})
		if err != nil {
			return updated, errors.Wrap(err, errors.ErrorTypeLoad, "update document").WithDetail("collection", c.coll.Name())
		}
		if res.MatchedCount > 0 {
			updated++
		}
	}
	return updated, nil
}

func identity(desc *entity.Descriptor, row any) (bson.D, error) {
	if desc.Key != nil {
		return bson.D{{Key: desc.Key.Column, Value: desc.Key.Get(row)}}, nil
	}
	keyHash := desc.Control(entity.ControlKeyHash)
	if keyHash == nil {
		return nil, errors.Newf(errors.ErrorTypeValidation, "%s has neither a key nor a key hash", desc.Name)
	}
	filter := bson.D{{Key: keyHash.Column, Value: keyHash.Get(row)}}
	if active := desc.Control(entity.ControlIsActive); active != nil {
		filter = append(filter, bson.E{Key: active.Column, Value: true})
	}
	return filter, nil
}

func toDocument(desc *entity.Descriptor, row any) bson.D {
	doc := make(bson.D, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		doc = append(doc, bson.E{Key: f.Column, Value: f.Get(row)})
	}
	return doc
}

// fromDocument sets the mapped fields of row from doc, unwrapping the
// driver's primitive types.
func fromDocument(desc *entity.Descriptor, row any, doc bson.M) error {
	for column, value := range doc {
		f := desc.Field(column)
		if f == nil {
			continue
		}
		switch v := value.(type) {
		case primitive.DateTime:
			value = v.Time().UTC()
		case primitive.Binary:
			value = v.Data
		case primitive.Null:
			value = nil
		}
		if err := f.Set(row, value); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "decode document")
		}
	}
	return nil
}

func decodeAll[T any](ctx context.Context, desc *entity.Descriptor, cur *mongo.Cursor) ([]T, error) {
	defer cur.Close(ctx)
	var out []T
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "decode document")
		}
		row := entity.New[T]()
		if err := fromDocument(desc, row, doc); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "read cursor")
	}
	return out, nil
}

func toInt64(v any) int64 {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int()
	case rv.CanUint():
		return int64(rv.Uint())
	}
	return 0
}
