package database

import "campus/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Course{},
		&models.Lesson{},
		&models.Assignment{},
		&models.Announcement{},
		&models.StudyGroup{},
		&models.Enrollment{},
		&models.Comment{},
		&models.CommentLike{},
	}
}
