package initial

import (
	"context"
	"fmt"
	"strings"

	"Nexus/internal/config"
	"Nexus/pkg/zlog"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

var MilvusClient mclient.Client

func init() {
	conf := config.GetConfig()
	// 只有 milvus 后端才需要连接
	if conf.EngineConfig.IndexBackend != "milvus" {
		return
	}
	addr := strings.TrimSpace(conf.MilvusConfig.Address)
	if addr == "" {
		zlog.Fatal("index backend is milvus but milvusConfig.address is empty")
		return
	}

	cli, err := newMilvusClientAndEnsureSchema(context.Background(), conf)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("milvus init failed: %v", err))
		return
	}
	MilvusClient = cli
}

func newMilvusClientAndEnsureSchema(ctx context.Context, conf *config.Config) (mclient.Client, error) {
	addr := strings.TrimSpace(conf.MilvusConfig.Address)
	dbName := strings.TrimSpace(conf.MilvusConfig.DBName)
	collection := strings.TrimSpace(conf.MilvusConfig.CollectionName)
	if dbName == "" {
		dbName = "nexus"
	}
	if collection == "" {
		collection = "nexus_item_vectors"
	}
	dim := conf.EngineConfig.Dimension

	defaultCli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   "default",
	})
	if err != nil {
		return nil, err
	}

	dbs, err := defaultCli.ListDatabases(ctx)
	if err != nil {
		_ = defaultCli.Close()
		return nil, err
	}
	exists := false
	for _, db := range dbs {
		if db.Name == dbName {
			exists = true
			break
		}
	}
	if !exists {
		if err := defaultCli.CreateDatabase(ctx, dbName); err != nil {
			_ = defaultCli.Close()
			return nil, err
		}
	}
	_ = defaultCli.Close()

	cli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   dbName,
	})
	if err != nil {
		return nil, err
	}

	has, err := cli.HasCollection(ctx, collection)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: collection,
			Description:    "Nexus item embeddings",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "36"},
				},
				{
					Name:       "vector",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", dim)},
				},
			},
		}
		if err := cli.CreateCollection(ctx, schema, 1); err != nil {
			_ = cli.Close()
			return nil, err
		}
		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			_ = cli.Close()
			return nil, err
		}
		if err := cli.CreateIndex(ctx, collection, "vector", idx, false); err != nil {
			_ = cli.Close()
			return nil, err
		}
	}

	if err := cli.LoadCollection(ctx, collection, false); err != nil {
		_ = cli.Close()
		return nil, err
	}
	zlog.Info(fmt.Sprintf("milvus ready: db=%s collection=%s dim=%d", dbName, collection, dim))
	return cli, nil
}
