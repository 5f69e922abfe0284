// Package subscription provides a JetStream-backed managed client.
//
// ShardConsumer consumes the subjects of the shards a worker owns through a
// single durable pull consumer. Factory plugs it into the sharder manager: the
// manager builds a new consumer every time the worker's shard set changes and
// stops the previous one first.
//
// Subjects are generated from a template, for example "orders.{{.Shard}}"
// yields "orders.0", "orders.1", and so on for the owned shards.
package subscription
