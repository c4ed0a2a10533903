// Package middleware собирает цепочки huma-мидлварей для групп
// операций API: публичные эндпоинты получают только логирование,
// операции синхронизации дополнительно аутентификацию.
package middleware

import "github.com/danielgtaylor/huma/v2"

// Chain накапливает мидлвари одной группы операций. Накопитель
// одноразовый: Build отдает собранную цепочку и очищает состояние,
// сборка следующей группы начинается с пустого списка.
type Chain struct {
	stack huma.Middlewares
}

func NewChain() *Chain {
	return &Chain{}
}

// Use добавляет мидлварь в конец цепочки; порядок добавления
// определяет порядок выполнения
func (c *Chain) Use(mw func(ctx huma.Context, next func(huma.Context))) *Chain {
	c.stack = append(c.stack, mw)
	return c
}

// Build возвращает собранную цепочку и сбрасывает накопитель
func (c *Chain) Build() huma.Middlewares {
	out := c.stack
	c.stack = nil
	return out
}
