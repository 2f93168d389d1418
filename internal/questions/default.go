package questions

func single(id, subject, level, stem string, correct int, opts ...string) Question {
	options := make([]Option, 0, len(opts))
	for i, text := range opts {
		options = append(options, Option{ID: string(rune('a' + i)), Text: text})
	}
	return Question{
		ID:      id,
		Subject: subject,
		Level:   level,
		Stem:    stem,
		Steps: []Step{{
			ID:              "s1",
			Prompt:          stem,
			Options:         options,
			CorrectOptionID: options[correct].ID,
		}},
	}
}

// Default is the built-in question set used when no bank file is configured.
func Default() []Question {
	return []Question{
		single("math-a1-001", "math", "A1", "What is 7 + 5?", 1, "11", "12", "13", "14"),
		single("math-a1-002", "math", "A1", "What is 9 x 3?", 2, "18", "21", "27", "36"),
		single("math-a1-003", "math", "A1", "What is 40 / 8?", 0, "5", "6", "8", "4"),
		single("math-a1-004", "math", "A1", "Which number is prime?", 3, "9", "15", "21", "13"),
		single("math-a1-005", "math", "A1", "What is 15 - 9?", 1, "5", "6", "7", "4"),
		{
			ID:      "math-a1-006",
			Subject: "math",
			Level:   "A1",
			Stem:    "A box holds 4 rows of 6 apples.",
			Steps: []Step{
				{
					ID:              "s1",
					Prompt:          "How many apples are in the box?",
					Options:         []Option{{ID: "a", Text: "10"}, {ID: "b", Text: "24"}, {ID: "c", Text: "20"}},
					CorrectOptionID: "b",
				},
				{
					ID:              "s2",
					Prompt:          "Half of them are eaten. How many are left?",
					Options:         []Option{{ID: "a", Text: "12"}, {ID: "b", Text: "14"}, {ID: "c", Text: "10"}},
					CorrectOptionID: "a",
				},
			},
		},
		single("math-a1-007", "math", "A1", "What is 100 - 37?", 2, "73", "67", "63", "53"),
		single("math-a2-001", "math", "A2", "Solve for x: 3x + 4 = 19", 0, "5", "6", "7", "4"),
		single("math-a2-002", "math", "A2", "What is 15% of 80?", 1, "8", "12", "15", "10"),
		single("math-a2-003", "math", "A2", "What is the square root of 144?", 3, "11", "14", "13", "12"),
		single("english-a1-001", "english", "A1", "Pick the plural of 'child'.", 2, "childs", "childes", "children", "child"),
		single("english-a1-002", "english", "A1", "She ___ to school every day.", 0, "goes", "go", "going", "gone"),
		single("english-a1-003", "english", "A1", "Pick the opposite of 'cold'.", 1, "cool", "hot", "wet", "dry"),
	}
}
