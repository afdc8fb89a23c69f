package pipeline

import "strings"

const imagesIntro = `I have provided a series of images. These are frames extracted from a video recording of someone scrolling through a Kugou Music playlist.`

const textIntro = `I have provided text copied from a music playlist.`

const promptBody = `Your task is to extract a list of songs and their artists from the provided content.

CRITICAL INSTRUCTIONS FOR VIDEO FRAMES:
1. Because the images are video frames, there is SIGNIFICANT OVERLAP between images. The same song will appear in multiple consecutive images.
2. You MUST deduplicate the songs. If "Song A - Artist B" appears in Image 1, Image 2, and Image 3, only list it ONCE in the final output.
3. Maintain the relative order of songs as they appear in the scrolling list, but prioritize uniqueness.

OUTPUT FORMAT INSTRUCTIONS (STRICT):
1. Return ONLY the song data in plain text format.
2. Each line must represent one song.
3. Use " ||| " as the separator between Song Name and Artist Name.
4. Format: Song Name ||| Artist Name
5. Do not include numbering, bullet points, or any other formatting.
6. Do not include markdown code blocks. Just raw text.
7. Example output:
   Shape of You ||| Ed Sheeran
   Blinding Lights ||| The Weeknd
   Bad Guy ||| Billie Eilish

General Rules:
1. Identify the song title and the artist name.
2. Ignore generic text like "Play", "Download", "Duration", "Share", "SQ", "HQ", UI elements, timestamps, or lyrics.
3. If the artist is not explicitly clear, try to infer it from the context (e.g. "Song - Artist").
4. Clean up any extra whitespace or special characters.`

func buildPrompt(hasImages, hasText bool) string {
	var b strings.Builder
	b.WriteString("You are a data extraction assistant.\n")
	if hasImages {
		b.WriteString(imagesIntro)
		b.WriteString("\n")
	} else {
		b.WriteString(textIntro)
		b.WriteString("\n")
	}
	if hasText {
		b.WriteString("I have also provided some raw text.\n")
	}
	b.WriteString("\n")
	b.WriteString(promptBody)
	return b.String()
}
