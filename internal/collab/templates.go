package collab

import "slices"

var languages = []string{
	"javascript", "typescript", "python", "java", "cpp", "c", "go", "rust", "php", "ruby",
	"html", "css", "sql", "json", "xml", "yaml", "markdown", "bash", "powershell",
}

const fallbackContent = "// Start coding...\n"

var starterContent = map[string]string{
	"javascript": `// JavaScript Code

function hello() {
  console.log("Hello, World!");
}

hello();
`,
	"typescript": `// TypeScript Code

function hello(): void {
  console.log("Hello, World!");
}

hello();
`,
	"python": `# Python Code

def hello():
    print("Hello, World!")

if __name__ == "__main__":
    hello()
`,
	"java": `// Java Code

public class Main {
    public static void main(String[] args) {
        System.out.println("Hello, World!");
    }
}
`,
	"html": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Document</title>
</head>
<body>
    <h1>Hello, World!</h1>
</body>
</html>
`,
	"css": `/* CSS Styles */

body {
    font-family: Arial, sans-serif;
    margin: 0;
    padding: 20px;
}

h1 {
    color: #333;
}
`,
	"json": `{
    "message": "Hello, World!",
    "status": "success"
}
`,
	"markdown": `# Hello, World!

This is a **markdown** document.

## Features

- Easy to read
- Easy to write
- Supports formatting
`,
}

// Languages lists the accepted session languages.
func Languages() []string {
	return slices.Clone(languages)
}

func ValidLanguage(language string) bool {
	return slices.Contains(languages, language)
}

// DefaultContent is the initial buffer for a new session in language.
func DefaultContent(language string) string {
	if content, ok := starterContent[language]; ok {
		return content
	}
	return fallbackContent
}
