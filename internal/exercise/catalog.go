// Package exercise provides exercise stores layered over the SQLite
// catalogue: an in-memory store, a Redis read-through cache and the seed
// catalogue loaded on first start.
package exercise

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// DefaultCatalog returns the exercises a fresh install starts with.
func DefaultCatalog() []*types.Exercise {
	return []*types.Exercise{
		{
			ID:          "async-function",
			Title:       "Async Function",
			Description: "Write an async function that fetches a todo from an API and logs it.",
			Hint: `// Fetch from https://jsonplaceholder.typicode.com/todos/1
const fetchData = async () => {
  // your code here
};

fetchData();`,
			Solution: `const fetchData = async () => {
  try {
    const response = await fetch('https://jsonplaceholder.typicode.com/todos/1');
    const data = await response.json();
    console.log(data);
  } catch (error) {
    console.error('Error fetching data:', error);
  }
};

fetchData();`,
		},
		{
			ID:          "promise",
			Title:       "Promise",
			Description: "Create a promise that resolves after 2 seconds and logs its message.",
			Hint: `// Log: Promise resolved after 2 seconds
const myPromise = new Promise((resolve, reject) => {
  // your code here
});`,
			Solution: `const myPromise = new Promise((resolve, reject) => {
  setTimeout(() => {
    resolve('Promise resolved after 2 seconds');
  }, 2000);
});

myPromise.then((message) => {
  console.log(message);
});`,
		},
		{
			ID:          "array-map",
			Title:       "Array Map",
			Description: "Use the array map method to square every number in a list.",
			Hint: `const numbers = [1, 2, 3, 4, 5];
const squaredNumbers = // your code here
console.log(squaredNumbers);`,
			Solution: `const numbers = [1, 2, 3, 4, 5];
const squaredNumbers = numbers.map(num => num * num);
console.log(squaredNumbers);`,
		},
		{
			ID:          "object-destructuring",
			Title:       "Object Destructuring",
			Description: "Destructure the properties of an object and log each one.",
			Hint: `const person = { name: 'John', age: 30, job: 'Developer' };

const { name, age, job } = // your code here`,
			Solution: `const person = { name: 'John', age: 30, job: 'Developer' };

const { name, age, job } = person;
console.log(name);
console.log(age);
console.log(job);`,
		},
		{
			ID:          "array-filter",
			Title:       "Array Filter",
			Description: "Filter a list down to its even numbers and log them.",
			Hint: `const numbers = [1, 2, 3, 4, 5, 6];
const evenNumbers = // your code here`,
			Solution: `const numbers = [1, 2, 3, 4, 5, 6];
const evenNumbers = numbers.filter(num => num % 2 === 0);
console.log(evenNumbers);`,
		},
	}
}

// Seed writes exercises into an empty store. A store that already lists
// exercises is left alone. It returns the number of exercises written.
func Seed(ctx context.Context, store interfaces.ExerciseStore, writer interfaces.ExerciseWriter, exercises []*types.Exercise, logger *zap.Logger) (int, error) {
	existing, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list exercises: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for _, ex := range exercises {
		if err := writer.Upsert(ctx, ex); err != nil {
			return 0, fmt.Errorf("seed exercise %q: %w", ex.ID, err)
		}
	}
	if logger != nil {
		logger.Info("seeded exercise catalogue", zap.Int("count", len(exercises)))
	}
	return len(exercises), nil
}
