package services

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// findSorted is a small shortcut for the common Find option of a single
// sort order.
func findSorted(sort bson.D) *options.FindOptions {
	return options.Find().SetSort(sort)
}
