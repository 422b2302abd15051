package grader

import "fmt"

// reviewTemplate is the evaluation prompt. The candidate response and the
// rubric are embedded verbatim inside fenced blocks.
const reviewTemplate = `Here is the answer I got from an LLM:

` + "```" + `
%s
` + "```" + `

I want you to tell me if the answer above is correct. Here are the instructions that say what should be the correct answer:

` + "```" + `
%s
` + "```" + `

Now, respond only with **ONE** word that can be either ` + "`TRUE`" + ` (if the answer from the LLM matches instructions provided) or ` + "`FALSE`" + ` (if the answer from the LLM doesn't match the instructions provided).`

// BuildPrompt returns the evaluation prompt for one response.
func BuildPrompt(response, reviewInstructions string) string {
	return fmt.Sprintf(reviewTemplate, response, reviewInstructions)
}
