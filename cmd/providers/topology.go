package providers

import (
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/pelletier/go-toml"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/topology"
	"go.yarde.network/sweeper/pkg/topology/redisshard"
)

// Topology config keys.
const (
	ConfTopologyConfigFile = "topology.config_file"
	ConfTopologyShardCount = "topology.shard_count"
)

func init() {
	viper.SetDefault(ConfTopologyConfigFile, "")
	viper.SetDefault(ConfTopologyShardCount, int32(8))
}

// NewTopologyConfig reads the shard topology. Without a config file
// the deployment runs all shards on the shared Redis server.
func NewTopologyConfig(log *zap.Logger) (*topology.Config, error) {
	configFilePath := viper.GetString(ConfTopologyConfigFile)
	if configFilePath == "" {
		return &topology.Config{
			ShardCount: viper.GetInt32(ConfTopologyShardCount),
		}, nil
	}
	log.Info("Reading topology config",
		zap.String(ConfTopologyConfigFile, configFilePath))
	config := new(topology.Config)
	f, err := os.Open(configFilePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := toml.NewDecoder(f)
	if err := dec.Decode(config); err != nil {
		return nil, err
	}
	return config, nil
}

// NewShardFactory resolves queue shards to Redis servers.
func NewShardFactory(topo *topology.Config, rd *redis.Client) (redisshard.Factory, error) {
	if topo.RedisShardFactory == nil {
		return &redisshard.StandaloneFactory{Redis: rd}, nil
	}
	return redisshard.NewFactory(topo.RedisShardFactory)
}
