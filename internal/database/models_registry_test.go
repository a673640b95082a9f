package database

import (
	"testing"

	modelspkg "campus/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestPersistentModels_ParentsBeforeChildren(t *testing.T) {
	index := map[string]int{}
	for i, model := range PersistentModels() {
		switch model.(type) {
		case *modelspkg.User:
			index["users"] = i
		case *modelspkg.Course:
			index["courses"] = i
		case *modelspkg.Comment:
			index["comments"] = i
		case *modelspkg.CommentLike:
			index["comment_likes"] = i
		}
	}
	assert.Less(t, index["users"], index["courses"])
	assert.Less(t, index["users"], index["comments"])
	assert.Less(t, index["comments"], index["comment_likes"])
}
