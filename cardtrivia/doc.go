// Package cardtrivia implements a Discord bot that runs a card trivia game,
// quizzing users on cards pulled from YGOPRODeck.
//
// A user runs /trivia and gets a multiple-choice question about a random
// card: its description (with the card's own name masked out) and some of
// its attributes, with four names to pick from. They answer by reacting to
// the question with one of the choice markers. Each correct answer extends
// their streak, and a wrong answer resets it. Their best streak is kept,
// and ranked on the leaderboard.
//
// Key components of the package include:
//
//   - CardTrivia: The main struct, which wires the components below to
//     discord and the API.
//   - QuestionBuilder: Builds questions from a ContentSource.
//   - AnswerCollector: Waits on a single user's answer to a question.
//   - StreakStore: Persists streaks, in a gorm database or in redis.
//   - Leaderboard: Ranks users by their best streak.
//   - API: A read-only HTTP API for the leaderboard and streaks.
//
// The bot supports these commands:
//
//   - /trivia: Asks a question. With archetype:true, the choices are all
//     from the same archetype.
//   - /streak: Shows your current and best streak.
//   - /leaderboard: Shows the best streaks.
//   - /help: Lists the commands.
package cardtrivia
