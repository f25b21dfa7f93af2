package chat

import (
	"fmt"
	"strings"

	"github.com/suPer8Hu/book-chat/internal/ai"
	"github.com/suPer8Hu/book-chat/internal/books"
	"github.com/suPer8Hu/book-chat/internal/conversation"
	"github.com/suPer8Hu/book-chat/internal/retrieval"
)

const fallbackReply = "I apologize, but I could not generate a response."

const passageSeparator = "\n\n---\n\n"

func formatPassages(passages []retrieval.Passage) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		parts = append(parts, fmt.Sprintf("From chapter \"%s\":\n%s", p.ChapterTitle, p.Content))
	}
	return strings.Join(parts, passageSeparator)
}

func systemPrompt(book books.Book, passages []retrieval.Passage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI assistant representing the book \"%s\" by %s.\n", book.Title, book.Author)
	b.WriteString("Answer questions based on the book's content and respond in a tone that reflects the author's writing style.\n")
	b.WriteString("Use the provided passages from the book to inform your answers. Be helpful, insightful, and stay true to the book's teachings.\n\n")
	b.WriteString("Book Summary:\n")
	b.WriteString(book.Summary)
	b.WriteString("\n\nRelevant passages:\n")
	b.WriteString(formatPassages(passages))
	return b.String()
}

// buildPrompt returns the system prompt, then history oldest first, then the new question.
func buildPrompt(book books.Book, passages []retrieval.Passage, history []conversation.Message, question string) []ai.Message {
	msgs := make([]ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: systemPrompt(book, passages)})
	for _, m := range history {
		msgs = append(msgs, ai.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: question})
	return msgs
}
