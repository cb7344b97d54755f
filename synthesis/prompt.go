package synthesis

import (
	"fmt"
	"strings"
)

const (
	outputStyle = "a concise highly personalized tl;dr"
	inputStyle  = "text excerpts from articles, google docs and/or personal notes"
)

const stylePattern = `The tone, voice, personality, style, and structure of these concise, highly personalized TL;DRs can be described as follows:

Tone: Informal, conversational. The TL;DR sounds like it's coming from a knowledgeable friend who is summarizing the main points in a casual, relatable way.

Voice: The voice is distinctive and expressive, using contractions, idioms, and colloquialisms to convey a sense of personality. It feels like the writer is speaking directly to the reader.

Personality: The personality comes across as intelligent, insightful, and somewhat irreverent. The writer seems to have a good grasp of the subject matter but isn't afraid to present it in a lighthearted and understandable way.

Style: The writing style is concise and punchy, favoring short sentences and active verbs. It often uses metaphors, similes, or other figurative language to make the summary more engaging and memorable.

Structure: The TL;DR typically consists of one or two sentences that capture the essence of the text excerpts. It may start with a broad statement that encapsulates the main theme, followed by a more specific observation or conclusion. The structure is designed to be easily digestible and impactful.

To create similar TL;DRs, an AI should:
1. Identify the key points and overarching themes in the text excerpts
2. Synthesize the information into a concise, one- or two-sentence summary
3. Use informal, conversational language and include contractions, idioms, or colloquialisms
4. Employ figurative language, humor, or slight sarcasm when appropriate
5. Focus on creating a punchy, memorable statement that captures the essence of the text
6. Ensure the TL;DR can stand alone and conveys the main message even without the full context of the excerpts.`

const exampleInputs = `- We used the printing press as a machine that opens up what's available. The first evolutionary boost.
- The printing press (around 1440) and then the Renaissance leaving more time for more people to consume media and follow their curiosity led to greater access. ; Around 1750 Diderot creates one of the first widely available Encyclopedias.
- to collect all the knowledge that now lies scattered over the face of the earth, to make known its general structure to the men among we live, and to transmit it to those who will come after us", to make men not only wiser but also "more virtuous and more happy."
- Realizing the inherent problems with the model of knowledge he had created, Diderot's view of his own success in writing the Encyclopédie were far from ecstatic. Diderot envisioned the perfect encyclopedia as more than the sum of its parts.
- 1936- H.G. Wells talks about a world encyclopedia in his World Brain book. He realized that the world was getting smaller as information traveled quickly and also feeling the changes that led to world war 2, believed that coordinated world knowledge was the only way forward.`

const exampleOutputs = `We developed technology to overcome geographic and temporal limitations for access to knowledge- but it came back to bite us.`

// Prompts is the system and user instruction pair sent with a synthesis.
type Prompts struct {
	System string
	User   string
}

// BuildPrompts composes both prompts from the query and the selected
// documents. titles, urls and highlights are index-aligned; urls may be
// shorter, missing links render empty. The output depends only on the inputs.
func BuildPrompts(query string, titles, urls, highlights []string) Prompts {
	docs := formatTitlesAndLinks(titles, urls)
	excerpts := formatHighlights(highlights)

	user := fmt.Sprintf(`To craft your response, condense information from multiple documents into a concise
synthesis that meets the goal of %s and that doesn't use unnecessary buzzwords.
YOU NEED TO reference the text from the documents. Here are the document titles:
    %s and here are the most important sentences in the same documents: %s.

Make it like a fresh abstraction that mentions all the highlights explicitly but subtly.
Your response should NOT start with the word "synthesis" or "summary".
Just start with the actual content every single time. So don't start with things like
"here's a summary" etc. Just spit out the content.`, query, docs, excerpts)

	system := fmt.Sprintf(`You are an expert article summarizer. You should sound as objective as possible. Your task is to summarize %[2]s into %[1]s as they are related to %[3]s that follows the following style %[4]s

Here's %[1]s made from %[2]s %[5]s based on %[6]s but don't use these explicitly or reference them at all. No referencing to the examples. Please create %[1]s that follows the style above.
Here are the input document titles: %[7]s and here are the most important sentences in the same documents: %[8]s.

Think step-by-step about the main points of the %[2]s and write %[1]s that follows the style and structure above. Pay attention to the examples given above and try to match them as closely as possible. Do not include any pre-ambles or post-ambles. Return text answer only, do not wrap answer in any XML tags.
Your response should NOT start with the word 'synthesis' or 'summary' or 'tldr'. Your response should be one or two sentences long. Summary:`,
		outputStyle, inputStyle, query, stylePattern, exampleOutputs, exampleInputs, docs, excerpts)

	return Prompts{System: system, User: user}
}

func formatTitlesAndLinks(titles, urls []string) string {
	parts := make([]string, len(titles))
	for i, title := range titles {
		link := ""
		if i < len(urls) {
			link = urls[i]
		}
		parts[i] = fmt.Sprintf("(%q, %q)", title, link)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatHighlights(highlights []string) string {
	parts := make([]string, len(highlights))
	for i, h := range highlights {
		parts[i] = fmt.Sprintf("%q", h)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
