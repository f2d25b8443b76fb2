package models

const (
	// NoContextAnswer is returned when retrieval finds nothing to ground an answer on.
	NoContextAnswer = "I couldn't find any relevant information in the provided context."

	ContextSeparator = "\n"

	SystemPrompt = "You are a helpful assistant. Only answer based on the provided context. " +
		"If you can't find the information in the context, say so explicitly."
)

// metadata keys attached to every chunk
const (
	MetaSource     = "source"
	MetaFileName   = "file_name"
	MetaFileType   = "file_type"
	MetaChunkIndex = "chunk_index"
	MetaOffset     = "offset"
	MetaPage       = "page"
	MetaPages      = "pages"
)

var (
	GroundingPromptTemplate = `Based ONLY on the following context, answer the question. If the context doesn't contain relevant information, say so explicitly.

Context:
%s

Question: %s

Answer:`
)
