/*
Copyright © 2025 ALESSIO TONIOLO

responses.go holds the canned completions the mock server answers with and
the keyword classifier that picks one per prompt.
*/
package mockvllm

import "strings"

// Response categories, most specific first.
const (
	categoryPythonCode     = "python_code"
	categoryJavaScriptCode = "javascript_code"
	categoryExplanation    = "explanation"
	categoryAnalysis       = "analysis"
	categoryErrorHelp      = "error_help"
	categoryChat           = "chat_response"
	categoryDefault        = "default"
)

var mockResponses = map[string]string{
	categoryPythonCode: `def fibonacci(n):
    """Generate Fibonacci sequence up to n terms"""
    if n <= 0:
        return []
    elif n == 1:
        return [0]
    elif n == 2:
        return [0, 1]

    fib = [0, 1]
    for i in range(2, n):
        fib.append(fib[i-1] + fib[i-2])
    return fib

# Example usage
if __name__ == "__main__":
    result = fibonacci(10)
    print(f"First 10 Fibonacci numbers: {result}")`,

	categoryJavaScriptCode: `function fibonacci(n) {
    /**
     * Generate Fibonacci sequence up to n terms
     * @param {number} n - Number of terms to generate
     * @returns {number[]} Array of Fibonacci numbers
     */
    if (n <= 0) return [];
    if (n === 1) return [0];
    if (n === 2) return [0, 1];

    const fib = [0, 1];
    for (let i = 2; i < n; i++) {
        fib.push(fib[i-1] + fib[i-2]);
    }
    return fib;
}

// Example usage
console.log('First 10 Fibonacci numbers:', fibonacci(10));`,

	categoryExplanation: `This code implements the Fibonacci sequence generator. Here's how it works:

1. **Input validation**: Checks if n is valid (handles edge cases)
2. **Base cases**: Handles n=0, n=1, and n=2 specially
3. **Iterative approach**: Uses a loop to build the sequence efficiently
4. **Time complexity**: O(n) - linear time, optimal for this approach
5. **Space complexity**: O(n) - stores all numbers in the sequence

The Fibonacci sequence starts with 0, 1 and each subsequent number is the sum of the two preceding ones: 0, 1, 1, 2, 3, 5, 8, 13, 21, 34, ...`,

	categoryAnalysis: `**Code Analysis Report:**

**Strengths:**
✅ Clear function documentation with docstring
✅ Proper input validation for edge cases
✅ Efficient iterative approach (better than recursive)
✅ Good variable naming conventions
✅ Readable and maintainable code structure

**Potential Improvements:**
🔧 Add type hints for better code clarity
🔧 Consider using generators for memory efficiency with large sequences
🔧 Add comprehensive error handling for invalid inputs
🔧 Include unit tests for better reliability

**Performance Analysis:**
⚡ Time Complexity: O(n) - optimal for this approach
⚡ Space Complexity: O(n) - could be optimized to O(1) if only the nth value is needed
⚡ Memory usage scales linearly with input size

**Security Considerations:**
🔒 Input validation prevents negative numbers
🔒 No external dependencies or security risks
🔒 Safe for production use with proper input sanitization`,

	categoryChat: `Hello! I'm your AI coding assistant powered by DeepSeek R1. I can help you with:

🔧 **Code Generation**: Write functions, classes, and complete applications
📊 **Code Analysis**: Review code quality, performance, and best practices
🐛 **Debugging**: Identify and fix issues in your code
📚 **Explanations**: Explain algorithms, concepts, and code functionality
🧪 **Testing**: Generate unit tests and testing strategies
📖 **Documentation**: Create clear documentation and comments

What would you like me to help you with today? Please provide specific details about your coding task or question.`,

	categoryErrorHelp: `I can help you debug that error! Here's a systematic approach:

1. **Error Analysis**: Let me examine the error message and stack trace
2. **Root Cause**: Identify what's causing the issue
3. **Solution**: Provide a fix with explanation
4. **Prevention**: Suggest how to avoid similar issues

Please share:
- The complete error message
- The relevant code snippet
- What you were trying to accomplish
- Your environment details (Python version, OS, etc.)

I'll provide a detailed solution with code examples!`,

	categoryDefault: `I understand your request. As an AI coding assistant, I'm here to help you with various programming tasks.

**How I can assist you:**
- Generate code in multiple programming languages
- Analyze and optimize existing code
- Debug errors and provide solutions
- Explain programming concepts and algorithms
- Suggest best practices and design patterns
- Create documentation and tests

Please provide more specific details about what you'd like me to help you with, and I'll give you a comprehensive response tailored to your needs.`,
}

var (
	codeWords        = []string{"code", "function", "class", "implement", "write", "create"}
	explanationWords = []string{"explain", "how", "what", "why", "describe"}
	analysisWords    = []string{"analyze", "review", "check", "improve", "optimize"}
	errorWords       = []string{"error", "bug", "debug", "fix", "problem", "issue"}
	greetingWords    = []string{"hello", "hi", "help", "assist", "can you"}
)

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// classify picks a response category for a prompt. Precedence mirrors the
// question types the assistant sees most: language-specific code requests,
// generic code requests, explanations, analysis, debugging, greetings.
func classify(prompt string) string {
	lower := strings.ToLower(prompt)

	codeRequest := containsAny(lower, []string{"code", "function", "class", "implement"})
	switch {
	case strings.Contains(lower, "python") && codeRequest:
		return categoryPythonCode
	case strings.Contains(lower, "javascript") && codeRequest:
		return categoryJavaScriptCode
	case containsAny(lower, codeWords):
		return categoryPythonCode // default code answers to Python
	case containsAny(lower, explanationWords):
		return categoryExplanation
	case containsAny(lower, analysisWords):
		return categoryAnalysis
	case containsAny(lower, errorWords):
		return categoryErrorHelp
	case containsAny(lower, greetingWords):
		return categoryChat
	default:
		return categoryDefault
	}
}

// Respond returns the canned completion for a prompt.
func Respond(prompt string) string {
	return mockResponses[classify(prompt)]
}
