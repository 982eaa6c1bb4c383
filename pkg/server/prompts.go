/*
Copyright © 2025 ALESSIO TONIOLO

prompts.go builds the prompt templates sent to the model for chat, code
generation and code analysis.
*/
package server

import "fmt"

// chatPrompt frames a free-form message as a coding-assistant request.
func chatPrompt(message string) string {
	return fmt.Sprintf(`You are an expert AI coding assistant powered by DeepSeek-R1-0528. Please provide a helpful, accurate, and detailed response to the following request:

%s

Please ensure your response is:
- Technically accurate and up-to-date
- Well-structured and easy to understand
- Includes code examples when relevant
- Provides explanations for complex concepts
- Follows best practices and conventions

Response:`, message)
}

// codePrompt frames a code-generation request.
func codePrompt(prompt, language, complexity string, includeTests bool) string {
	closing := "Brief explanation"
	if includeTests {
		closing = "Unit tests"
	}
	return fmt.Sprintf(`You are an expert software engineer. Generate high-quality %s code for the following request:

**Request:** %s

**Requirements:**
- Language: %s
- Complexity: %s
- Include tests: %t
- Follow best practices and conventions
- Include proper documentation/comments
- Ensure code is production-ready

**Response Format:**
Please provide:
1. The main code implementation
2. Usage examples
3. %s

Code:`, language, prompt, language, complexity, includeTests, closing)
}

// analysisPrompt frames a code-review request.
func analysisPrompt(code, analysisType string, includeSuggestions bool) string {
	closing := "Summary"
	if includeSuggestions {
		closing = "Improvement suggestions"
	}
	return fmt.Sprintf(`You are an expert code reviewer. Please analyze the following code:

`+"```"+`
%s
`+"```"+`

**Analysis Type:** %s
**Include Suggestions:** %t

Please provide a comprehensive analysis including:
1. Code quality assessment
2. Performance considerations
3. Security review
4. Best practices compliance
5. %s

Analysis:`, code, analysisType, includeSuggestions, closing)
}

// demoChatReply is returned in demo mode without touching the model server.
func demoChatReply(message string) string {
	return fmt.Sprintf(`Demo Response to: %q

This is a demonstration of the xCodeAgent system. In production mode, this connects to the real DeepSeek-R1-0528 model via vLLM server.

**Available Modes:**
- `+"`production`"+`: Real DeepSeek-R1-0528 model
- `+"`demo`"+`: Mock responses (current)
- `+"`hybrid`"+`: Fallback to demo if production fails

To use production mode, ensure the vLLM server is running with DeepSeek-R1-0528.`, message)
}

// hybridFallbackReply wraps an upstream failure into a usable answer.
func hybridFallbackReply(message, upstreamErr string) string {
	return fmt.Sprintf(`**Hybrid Mode Fallback Response**

I apologize, but the DeepSeek-R1-0528 model is currently unavailable. Here's a fallback response to your query: %q

**Error Details:** %s

**Suggested Actions:**
1. Check if the vLLM server is running
2. Verify the model is loaded correctly
3. Try again in a few moments
4. Use demo mode for testing

For immediate assistance, please try rephrasing your question or use demo mode.`, message, upstreamErr)
}

// unknownModeReply explains the valid execution modes.
func unknownModeReply(mode string) string {
	return fmt.Sprintf("Unknown execution mode: %s. Available modes: production, demo, hybrid", mode)
}
