package rules

// Variable describes a template variable for the rule editor.
type Variable struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
}

// KnownVariables lists the well-known template variables. Arbitrary
// additional properties remain addressable by their slash- or
// dot-delimited path.
func KnownVariables() []Variable {
	return []Variable{
		{Name: "filePath", Description: "source path of the file below the files root", Example: "Movies/Inception.mkv"},
		{Name: "fileName", Description: "file name including extension", Example: "Inception.mkv"},
		{Name: "extension", Description: "file extension without the dot", Example: "mkv"},
		{Name: "fileType", Description: "file type hint", Example: "video"},
		{Name: "size", Description: "file size in bytes"},
		{Name: "mtime", Description: "modification time"},
		{Name: "ctime", Description: "creation time"},
		{Name: "title", Description: "display title", Example: "Inception"},
		{Name: "originalTitle", Description: "title in the original language"},
		{Name: "titles.<lang>", Description: "localized title, e.g. titles.eng"},
		{Name: "season", Description: "season number"},
		{Name: "episode", Description: "episode number"},
		{Name: "extra", Description: "true for bonus material"},
		{Name: "movieYear", Description: "release year of a movie", Example: "2010"},
		{Name: "year", Description: "generic year"},
		{Name: "version", Description: "cut or edition", Example: "Directors Cut"},
		{Name: "subtitleLanguage", Description: "language of a subtitle file", Example: "eng"},
	}
}
