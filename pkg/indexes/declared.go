package indexes

import "eduapp/pkg/models"

func counting(typ, path string, each bool) models.ViewDefinition {
	return models.ViewDefinition{
		Emit:   models.EmitSpec{Type: typ, Path: path, Each: each},
		Reduce: models.ReduceCount,
	}
}

// Declared returns the index definitions the application reads through.
func Declared() []models.IndexDefinition {
	return []models.IndexDefinition{
		{
			Name:     "classrooms",
			Language: models.LanguageJavaScript,
			Views: map[string]models.ViewDefinition{
				"by_instructor": counting("classroom", "instructor.id", false),
				"by_topic":      counting("classroom", "topics", true),
			},
		},
		{
			Name:     "communities",
			Language: models.LanguageJavaScript,
			Views: map[string]models.ViewDefinition{
				"by_topic": counting("community", "topics", true),
			},
		},
		{
			Name:     "posts",
			Language: models.LanguageJavaScript,
			Views: map[string]models.ViewDefinition{
				"by_tag":    counting("post", "tags", true),
				"by_author": counting("post", "author.id", false),
			},
		},
	}
}

// Default is the registry over Declared.
func Default() *Registry {
	r, err := NewRegistry(Declared()...)
	if err != nil {
		panic(err)
	}
	return r
}
