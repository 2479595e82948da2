package bank

// ExampleConfigs returns a fully specified sample configuration.
func ExampleConfigs() []Config {
	return []Config{{
		Name:        "示例题库",
		Homepage:    "https://example.com",
		URL:         "https://example.com/api/search?question=${title}",
		Method:      MethodGet,
		ContentType: ContentJSON,
		Type:        "fetch",
		Headers: map[string]string{
			"User-Agent": "OCS-API/1.0",
		},
		Handler: "return (res)=> res.code === 1 ? [res.question, res.answer] : undefined",
	}}
}

// SimpleConfigs returns the smallest useful configuration.
func SimpleConfigs() []Config {
	return []Config{{
		Name:    "简单题库",
		URL:     "https://api.example.com/search?q=${title}",
		Handler: "return (res)=> res.success ? [res.data.question, res.data.answer] : undefined",
	}}
}
