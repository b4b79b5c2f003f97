// Package mongo connects to MongoDB, where the audit trail can be stored.
//
// Configuration comes from the environment (MONGODB_URL, MONGODB_DATABASE
// and friends) through the Config struct. Connect retries until the
// deployment answers a ping or the attempts run out.
//
//	var cfg mongo.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	db, err := mongo.ConnectDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	storage, err := mongostore.New(ctx, db, env)
package mongo
